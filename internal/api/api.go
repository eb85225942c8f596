// Package api implements the REST surface for Beacon: the public evaluation
// endpoint plus the authenticated administrative API for environments, flags,
// and the audit trail.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/beaconlabs/beacon/internal/evaluator"
	"github.com/beaconlabs/beacon/internal/store"
)

// Store is the persistence surface the API depends on. *store.PostgresStore
// satisfies it; tests substitute in-memory fakes.
type Store interface {
	store.EnvironmentRepository
	store.FlagRepository
	store.AuditRepository
}

// API holds the router and the injected dependencies for all HTTP handlers.
// It follows the Dependency Injection pattern to facilitate testing.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	// store is the data access layer for environments, flags, and audit.
	store Store

	// engine decides flag verdicts for the public evaluation endpoint.
	engine *evaluator.Engine

	// invalidator evicts cache entries after administrative writes commit.
	invalidator *evaluator.Invalidator

	// apiKeyHash is the SHA-256 hash of the valid API key.
	apiKeyHash string

	// skipAuth disables authentication when true (test/dev environments only).
	skipAuth bool
}

// NewAPI creates a new API instance with authentication enabled.
// The apiKeyHash parameter must be the SHA-256 hash of the API key.
func NewAPI(st Store, engine *evaluator.Engine, invalidator *evaluator.Invalidator, apiKeyHash string) *API {
	return NewAPIWithConfig(st, engine, invalidator, apiKeyHash, false)
}

// NewAPIWithConfig creates a new API instance with explicit control over
// authentication. The skipAuth switch exists for tests and local development;
// production configuration validation refuses to run without an API key hash.
//
// Panics if any dependency is nil, or if apiKeyHash is empty while
// authentication is enabled.
func NewAPIWithConfig(st Store, engine *evaluator.Engine, invalidator *evaluator.Invalidator, apiKeyHash string, skipAuth bool) *API {
	if st == nil {
		panic("api: store cannot be nil")
	}
	if engine == nil {
		panic("api: evaluator engine cannot be nil")
	}
	if invalidator == nil {
		panic("api: invalidator cannot be nil")
	}
	if !skipAuth && apiKeyHash == "" {
		panic("api: apiKeyHash cannot be empty when authentication is enabled")
	}

	api := &API{
		Router:      chi.NewRouter(),
		store:       st,
		engine:      engine,
		invalidator: invalidator,
		apiKeyHash:  apiKeyHash,
		skipAuth:    skipAuth,
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers the global middleware stack and API endpoints.
func (a *API) configureRoutes() {
	// 1. Global Middleware Stack
	// RequestID: Adds a unique ID to each request context (essential for tracing).
	a.Router.Use(middleware.RequestID)
	// RealIP: correctly sets the IP if behind a proxy/LB.
	a.Router.Use(middleware.RealIP)
	// Logger: Logs request method, path, status, and duration.
	a.Router.Use(RequestLogger)
	// Recoverer: Prevents the server from crashing on panics, returning 500 instead.
	a.Router.Use(middleware.Recoverer)
	// Content-Type: Forces JSON content type for API responses.
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	// 2. Public Routes (no authentication required)
	a.Router.Get("/health", a.handleHealthCheck)

	a.Router.Route("/api/v1", func(r chi.Router) {
		// Evaluation is the hot read path consumed by SDKs; it carries no
		// secrets and stays unauthenticated.
		r.Get("/evaluate/{flag_key}", a.handleEvaluate)

		// 3. Protected administrative routes
		r.Group(func(r chi.Router) {
			r.Use(a.authenticateAPIKey)

			r.Route("/environments", func(r chi.Router) {
				r.Post("/", a.handleCreateEnvironment)
				r.Get("/", a.handleListEnvironments)

				r.Route("/{key}", func(r chi.Router) {
					r.Get("/", a.handleGetEnvironment)
					r.Delete("/", a.handleDeleteEnvironment)
				})
			})

			r.Route("/flags", func(r chi.Router) {
				r.Post("/", a.handleCreateFlag)
				r.Get("/", a.handleListFlags)

				r.Route("/{key}", func(r chi.Router) {
					r.Get("/", a.handleGetFlag)
					r.Patch("/", a.handleUpdateFlag)
					r.Delete("/", a.handleDeleteFlag)
				})
			})

			r.Get("/audit", a.handleListAudit)
		})
	})
}

// handleHealthCheck is a shallow liveness probe: it only verifies HTTP serving
// capability. Deep dependency checks live on the observability server.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
