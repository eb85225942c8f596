package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/beaconlabs/beacon/internal/logger"
	"github.com/beaconlabs/beacon/internal/store"
)

// handleCreateEnvironment processes the POST /api/v1/environments request.
func (a *API) handleCreateEnvironment(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req CreateEnvironmentRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	env := &store.Environment{
		Key:         req.Key,
		Name:        req.Name,
		Description: req.Description,
	}

	if err := a.store.CreateEnvironment(r.Context(), env); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_CONFLICT",
				Message: "An environment with this key already exists",
			})
			return
		}

		log.Error("failed to create environment in db", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to create environment",
		})
		return
	}

	a.recordAudit(r, &store.AuditEntry{
		EntityType: "environment",
		EntityKey:  env.Key,
		Action:     store.AuditActionCreated,
	})

	log.Info("environment created", slog.String("environment_key", env.Key), slog.Int64("environment_id", env.ID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, mapEnvironment(env))
}

// handleListEnvironments processes the GET /api/v1/environments request.
// The environment count is small by nature, so the listing is not paginated.
func (a *API) handleListEnvironments(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	envs, err := a.store.ListEnvironments(r.Context())
	if err != nil {
		log.Error("failed to list environments from db", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to list environments",
		})
		return
	}

	dtos := make([]Environment, len(envs))
	for i, e := range envs {
		dtos[i] = mapEnvironment(e)
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]interface{}{"data": dtos})
}

// handleGetEnvironment processes the GET /api/v1/environments/{key} request.
func (a *API) handleGetEnvironment(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	key := chi.URLParam(r, "key")

	env, err := a.store.FindEnvironmentByKey(r.Context(), key)
	if err != nil {
		log.Error("failed to fetch environment from db", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to fetch environment",
		})
		return
	}
	if env == nil {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_NOT_FOUND",
			Message: "Environment not found",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapEnvironment(env))
}

// handleDeleteEnvironment processes the DELETE /api/v1/environments/{key}
// request. The FK cascade removes the environment's flags in the same
// transaction; only after the commit is the cache namespace evicted.
func (a *API) handleDeleteEnvironment(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	key := chi.URLParam(r, "key")

	env, err := a.store.DeleteEnvironment(r.Context(), key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_NOT_FOUND",
				Message: "Environment not found",
			})
			return
		}

		log.Error("failed to delete environment from db", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to delete environment",
		})
		return
	}

	// Commit-then-invalidate: the write is durable, eviction is best-effort.
	a.invalidator.EnvironmentRemoved(r.Context(), env.Key)

	a.recordAudit(r, &store.AuditEntry{
		EntityType: "environment",
		EntityKey:  env.Key,
		Action:     store.AuditActionDeleted,
	})

	log.Info("environment deleted", slog.String("environment_key", env.Key))
	w.WriteHeader(http.StatusNoContent)
}

// recordAudit appends an audit entry for a committed mutation. Best-effort:
// the mutation already succeeded, so an audit failure is logged but never
// turns a successful response into an error.
func (a *API) recordAudit(r *http.Request, entry *store.AuditEntry) {
	if err := a.store.RecordAudit(r.Context(), entry); err != nil {
		logger.FromContext(r.Context()).Error("failed to record audit entry",
			slog.String("entity_type", entry.EntityType),
			slog.String("entity_key", entry.EntityKey),
			slog.String("action", string(entry.Action)),
			slog.String("error", err.Error()),
		)
	}
}
