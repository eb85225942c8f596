package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/beaconlabs/beacon/internal/logger"
	"github.com/beaconlabs/beacon/internal/store"
)

// handleCreateFlag processes the POST /api/v1/flags request.
//
// Responsibilities:
// 1. Decodes the JSON payload into the CreateFlagRequest DTO.
// 2. Sanitizes and Validates the input using the DTO's business logic.
// 3. Resolves the target environment.
// 4. Persists the flag using the Repository layer.
// 5. Records the audit entry.
// 6. Returns the created resource with a 201 Created status.
func (a *API) handleCreateFlag(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req CreateFlagRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	// We delegate this logic to the DTO to keep the handler clean and testable.
	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	env, ok := a.resolveEnvironment(w, r, req.EnvironmentKey)
	if !ok {
		return
	}

	flag := &store.Flag{
		Key:               req.Key,
		Name:              req.Name,
		Description:       req.Description,
		Type:              req.Type,
		Enabled:           req.Enabled,
		RolloutPercentage: req.RolloutPercentage,
		EnvironmentID:     env.ID,
	}

	if err := a.store.CreateFlag(r.Context(), flag); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_CONFLICT",
				Message: "A flag with this key already exists in this environment",
			})
			return
		}

		log.Error("failed to create flag in db", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to create flag",
		})
		return
	}

	a.recordAudit(r, &store.AuditEntry{
		EntityType:     "flag",
		EntityKey:      flag.Key,
		EnvironmentKey: env.Key,
		Action:         store.AuditActionCreated,
	})

	log.Info("flag created", slog.String("flag_key", flag.Key), slog.String("environment_key", env.Key), slog.Int64("flag_id", flag.ID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, mapFlag(flag, env.Key))
}

// handleListFlags processes the GET /api/v1/flags request.
// An optional environment_key query parameter narrows the listing; without it
// flags from every environment are returned.
func (a *API) handleListFlags(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	page, pageSize, ok := a.parsePagination(w, r)
	if !ok {
		return
	}

	var envID *int64
	envKey := r.URL.Query().Get("environment_key")
	if envKey != "" {
		env, ok := a.resolveEnvironment(w, r, envKey)
		if !ok {
			return
		}
		envID = &env.ID
	}

	offset := (page - 1) * pageSize

	flags, totalItems, err := a.store.ListFlags(r.Context(), envID, pageSize, offset)
	if err != nil {
		log.Error("failed to list flags from db", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to list flags",
		})
		return
	}

	// When listing across environments the key is resolved per flag from the
	// environments table; to keep the query simple we only echo the filter key.
	dtos := make([]Flag, len(flags))
	for i, f := range flags {
		dtos[i] = mapFlag(f, envKey)
	}

	totalPages := 0
	if totalItems > 0 {
		totalPages = int(math.Ceil(float64(totalItems) / float64(pageSize)))
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, PaginatedResponse{
		Data: dtos,
		Pagination: Pagination{
			TotalItems:  totalItems,
			TotalPages:  totalPages,
			CurrentPage: page,
			PageSize:    pageSize,
		},
	})
}

// handleGetFlag processes the GET /api/v1/flags/{key}?environment_key= request.
func (a *API) handleGetFlag(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	key := chi.URLParam(r, "key")

	env, ok := a.requireEnvironmentQuery(w, r)
	if !ok {
		return
	}

	flag, err := a.store.FindFlag(r.Context(), key, env.ID)
	if err != nil {
		log.Error("failed to fetch flag from db", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to fetch flag",
		})
		return
	}
	if flag == nil {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_NOT_FOUND",
			Message: "Flag not found",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapFlag(flag, env.Key))
}

// handleUpdateFlag processes the PATCH /api/v1/flags/{key}?environment_key=
// request. The store applies the patch transactionally and returns both the
// previous and updated states; the field-level diff feeds the audit trail,
// and the cache entry is evicted only after the commit.
func (a *API) handleUpdateFlag(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	key := chi.URLParam(r, "key")

	env, ok := a.requireEnvironmentQuery(w, r)
	if !ok {
		return
	}

	var req UpdateFlagRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	old, updated, err := a.store.UpdateFlag(r.Context(), env.ID, key, req.Patch())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_NOT_FOUND",
				Message: "Flag not found",
			})
			return
		}

		log.Error("failed to update flag in db", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to update flag",
		})
		return
	}

	// Commit-then-invalidate: the new configuration is durable before any
	// cache entry disappears, so a concurrent evaluation re-reads either the
	// old committed state or the new one, never a half-applied patch.
	a.invalidator.FlagChanged(r.Context(), env.Key, updated.Key)

	a.recordAudit(r, &store.AuditEntry{
		EntityType:     "flag",
		EntityKey:      updated.Key,
		EnvironmentKey: env.Key,
		Action:         store.AuditActionUpdated,
		Changes:        diffFlags(old, updated),
	})

	log.Info("flag updated", slog.String("flag_key", updated.Key), slog.String("environment_key", env.Key))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapFlag(updated, env.Key))
}

// handleDeleteFlag processes the DELETE /api/v1/flags/{key}?environment_key=
// request.
func (a *API) handleDeleteFlag(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	key := chi.URLParam(r, "key")

	env, ok := a.requireEnvironmentQuery(w, r)
	if !ok {
		return
	}

	flag, err := a.store.DeleteFlag(r.Context(), env.ID, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_NOT_FOUND",
				Message: "Flag not found",
			})
			return
		}

		log.Error("failed to delete flag from db", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to delete flag",
		})
		return
	}

	a.invalidator.FlagChanged(r.Context(), env.Key, flag.Key)

	a.recordAudit(r, &store.AuditEntry{
		EntityType:     "flag",
		EntityKey:      flag.Key,
		EnvironmentKey: env.Key,
		Action:         store.AuditActionDeleted,
	})

	log.Info("flag deleted", slog.String("flag_key", flag.Key), slog.String("environment_key", env.Key))
	w.WriteHeader(http.StatusNoContent)
}

// --- Private Helpers ---

// resolveEnvironment looks up an environment by key and writes the error
// response itself when the lookup fails or the environment does not exist.
// The boolean result reports whether the handler should continue.
func (a *API) resolveEnvironment(w http.ResponseWriter, r *http.Request, key string) (*store.Environment, bool) {
	log := logger.FromContext(r.Context())

	env, err := a.store.FindEnvironmentByKey(r.Context(), key)
	if err != nil {
		log.Error("failed to fetch environment from db", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to fetch environment",
		})
		return nil, false
	}
	if env == nil {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_NOT_FOUND",
			Message: fmt.Sprintf("Environment %q not found", key),
		})
		return nil, false
	}

	return env, true
}

// requireEnvironmentQuery extracts the mandatory environment_key query
// parameter and resolves it.
func (a *API) requireEnvironmentQuery(w http.ResponseWriter, r *http.Request) (*store.Environment, bool) {
	key := r.URL.Query().Get("environment_key")
	if key == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_QUERY_PARAM",
			Message: "Query parameter 'environment_key' is required",
		})
		return nil, false
	}

	return a.resolveEnvironment(w, r, key)
}

// parsePagination extracts and clamps the page and page_size parameters.
// Out-of-bounds values are silently corrected; malformed values are a 400.
func (a *API) parsePagination(w http.ResponseWriter, r *http.Request) (page, pageSize int, ok bool) {
	page, err := parseOptionalInt(r, "page", 1)
	if err == nil {
		pageSize, err = parseOptionalInt(r, "page_size", 10)
	}
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_QUERY_PARAM",
			Message: err.Error(),
		})
		return 0, 0, false
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100 // Hard limit to prevent large queries
	}

	return page, pageSize, true
}

// parseOptionalInt extracts an integer from the query string.
// If the parameter is missing, it returns the defaultValue.
// It only returns an error if the parameter is present but malformed.
func parseOptionalInt(r *http.Request, key string, defaultValue int) (int, error) {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultValue, nil
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return 0, fmt.Errorf("parameter '%s' must be an integer", key)
	}
	return val, nil
}

// diffFlags produces the audit changes document: a JSON object keyed by field
// name with the old and new values, covering only fields that changed.
func diffFlags(old, updated *store.Flag) json.RawMessage {
	changes := make(map[string]map[string]interface{})

	if old.Name != updated.Name {
		changes["name"] = map[string]interface{}{"old": old.Name, "new": updated.Name}
	}
	if old.Description != updated.Description {
		changes["description"] = map[string]interface{}{"old": old.Description, "new": updated.Description}
	}
	if old.Type != updated.Type {
		changes["flag_type"] = map[string]interface{}{"old": old.Type, "new": updated.Type}
	}
	if old.Enabled != updated.Enabled {
		changes["enabled"] = map[string]interface{}{"old": old.Enabled, "new": updated.Enabled}
	}
	if old.RolloutPercentage != updated.RolloutPercentage {
		changes["rollout_percentage"] = map[string]interface{}{"old": old.RolloutPercentage, "new": updated.RolloutPercentage}
	}

	if len(changes) == 0 {
		return nil
	}

	b, err := json.Marshal(changes)
	if err != nil {
		return nil
	}
	return b
}
