package api

import (
	"log/slog"
	"math"
	"net/http"

	"github.com/go-chi/render"

	"github.com/beaconlabs/beacon/internal/logger"
	"github.com/beaconlabs/beacon/internal/store"
)

// handleListAudit processes the GET /api/v1/audit request. The trail is
// returned newest first and can be narrowed by entity_type and entity_key.
func (a *API) handleListAudit(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	page, pageSize, ok := a.parsePagination(w, r)
	if !ok {
		return
	}

	filter := store.AuditFilter{
		EntityType: r.URL.Query().Get("entity_type"),
		EntityKey:  r.URL.Query().Get("entity_key"),
	}

	offset := (page - 1) * pageSize

	entries, totalItems, err := a.store.ListAudit(r.Context(), filter, pageSize, offset)
	if err != nil {
		log.Error("failed to list audit entries from db", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to list audit entries",
		})
		return
	}

	dtos := make([]AuditEntry, len(entries))
	for i, e := range entries {
		dtos[i] = mapAuditEntry(e)
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
