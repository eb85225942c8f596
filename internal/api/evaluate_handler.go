package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/beaconlabs/beacon/internal/logger"
	"github.com/beaconlabs/beacon/internal/observability"
)

// handleEvaluate processes the GET /api/v1/evaluate/{flag_key} request.
//
// Query parameters:
//   - environment_key (required): the environment to evaluate in.
//   - user_id (optional): stable user identifier; required only for
//     percentage flags to hold a verdict (the engine reports the omission
//     as a disabled result, not an error).
//
// Unknown environments or flags are normal disabled responses. The only
// failure mode is a store transport error, surfaced as 503 so SDKs fall back
// to their local defaults and retry.
func (a *API) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	start := time.Now()

	flagKey := chi.URLParam(r, "flag_key")

	environmentKey := r.URL.Query().Get("environment_key")
	if environmentKey == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_QUERY_PARAM",
			Message: "Query parameter 'environment_key' is required",
		})
		return
	}

	userID := r.URL.Query().Get("user_id")

	result, err := a.engine.Evaluate(r.Context(), flagKey, environmentKey, userID)
	observability.EvalDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		log.Error("evaluation failed",
			slog.String("flag_key", flagKey),
			slog.String("environment_key", environmentKey),
			slog.String("error", err.Error()),
		)
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_STORE_UNAVAILABLE",
			Message: "Flag store is unavailable, retry with backoff",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, result)
}
