package api_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconlabs/beacon/internal/api"
	"github.com/beaconlabs/beacon/internal/store"
)

func boolPtr(b bool) *bool    { return &b }
func intPtr(i int) *int       { return &i }
func strPtr(s string) *string { return &s }

func TestCreateFlag(t *testing.T) {
	t.Parallel()

	ta := newTestAPI(t)
	ta.createEnvironment(t, "production")

	var flag api.Flag
	rec := ta.do(t, http.MethodPost, "/api/v1/flags", api.CreateFlagRequest{
		EnvironmentKey:    "production",
		Key:               "new-checkout",
		Name:              "New Checkout",
		Type:              store.FlagTypePercentage,
		Enabled:           true,
		RolloutPercentage: 25,
	}, &flag)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "new-checkout", flag.Key)
	assert.Equal(t, store.FlagTypePercentage, flag.Type)
	assert.Equal(t, 25, flag.RolloutPercentage)
	assert.Equal(t, "production", flag.EnvironmentKey)
	assert.NotZero(t, flag.ID)
}

func TestCreateFlag_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  api.CreateFlagRequest
	}{
		{
			name: "missing environment",
			req:  api.CreateFlagRequest{Key: "dark-mode", Name: "Dark Mode", Type: store.FlagTypeBoolean},
		},
		{
			name: "missing key",
			req:  api.CreateFlagRequest{EnvironmentKey: "production", Name: "Dark Mode", Type: store.FlagTypeBoolean},
		},
		{
			name: "unknown flag type",
			req:  api.CreateFlagRequest{EnvironmentKey: "production", Key: "dark-mode", Name: "Dark Mode", Type: "multivariate"},
		},
		{
			name: "rollout above 100",
			req: api.CreateFlagRequest{
				EnvironmentKey: "production", Key: "dark-mode", Name: "Dark Mode",
				Type: store.FlagTypePercentage, RolloutPercentage: 101,
			},
		},
		{
			name: "negative rollout",
			req: api.CreateFlagRequest{
				EnvironmentKey: "production", Key: "dark-mode", Name: "Dark Mode",
				Type: store.FlagTypePercentage, RolloutPercentage: -1,
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ta := newTestAPI(t)
			ta.createEnvironment(t, "production")

			var errResp api.ErrorResponse
			rec := ta.do(t, http.MethodPost, "/api/v1/flags", tt.req, &errResp)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "ERR_INVALID_INPUT", errResp.Code)
		})
	}
}

func TestCreateFlag_UnknownEnvironment(t *testing.T) {
	t.Parallel()

	ta := newTestAPI(t)

	var errResp api.ErrorResponse
	rec := ta.do(t, http.MethodPost, "/api/v1/flags", api.CreateFlagRequest{
		EnvironmentKey: "ghost",
		Key:            "dark-mode",
		Name:           "Dark Mode",
		Type:           store.FlagTypeBoolean,
	}, &errResp)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ERR_NOT_FOUND", errResp.Code)
}

func TestCreateFlag_DuplicatePerEnvironment(t *testing.T) {
	t.Parallel()

	ta := newTestAPI(t)
	ta.createEnvironment(t, "production")
	ta.createEnvironment(t, "staging")

	req := api.CreateFlagRequest{
		EnvironmentKey: "production",
		Key:            "dark-mode",
		Name:           "Dark Mode",
		Type:           store.FlagTypeBoolean,
	}
	ta.createFlag(t, req)

	// Same key in the same environment conflicts.
	rec := ta.do(t, http.MethodPost, "/api/v1/flags", req, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Same key in a different environment is fine.
	req.EnvironmentKey = "staging"
	rec = ta.do(t, http.MethodPost, "/api/v1/flags", req, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestListFlags_FilterByEnvironment(t *testing.T) {
	t.Parallel()

	ta := newTestAPI(t)
	ta.createEnvironment(t, "production")
	ta.createEnvironment(t, "staging")

	ta.createFlag(t, api.CreateFlagRequest{
		EnvironmentKey: "production", Key: "dark-mode", Name: "Dark Mode", Type: store.FlagTypeBoolean,
	})
	ta.createFlag(t, api.CreateFlagRequest{
		EnvironmentKey: "production", Key: "new-checkout", Name: "New Checkout", Type: store.FlagTypeBoolean,
	})
	ta.createFlag(t, api.CreateFlagRequest{
		EnvironmentKey: "staging", Key: "dark-mode", Name: "Dark Mode", Type: store.FlagTypeBoolean,
	})

	var resp api.PaginatedResponse
	rec := ta.do(t, http.MethodGet, "/api/v1/flags?environment_key=production", nil, &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), resp.Pagination.TotalItems)

	rec = ta.do(t, http.MethodGet, "/api/v1/flags", nil, &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(3), resp.Pagination.TotalItems)
}

func TestListFlags_MalformedPagination(t *testing.T) {
	t.Parallel()

	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodGet, "/api/v1/flags?page=banana", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetFlag(t *testing.T) {
	t.Parallel()

	ta := newTestAPI(t)
	ta.createEnvironment(t, "production")
	created := ta.createFlag(t, api.CreateFlagRequest{
		EnvironmentKey: "production", Key: "dark-mode", Name: "Dark Mode", Type: store.FlagTypeBoolean,
	})

	var flag api.Flag
	rec := ta.do(t, http.MethodGet, "/api/v1/flags/dark-mode?environment_key=production", nil, &flag)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, flag.ID)

	// environment_key is mandatory on single-flag routes.
	rec = ta.do(t, http.MethodGet, "/api/v1/flags/dark-mode", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ta.do(t, http.MethodGet, "/api/v1/flags/ghost?environment_key=production", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateFlag(t *testing.T) {
	t.Parallel()

	ta := newTestAPI(t)
	ta.createEnvironment(t, "production")
	ta.createFlag(t, api.CreateFlagRequest{
		EnvironmentKey:    "production",
		Key:               "new-checkout",
		Name:              "New Checkout",
		Type:              store.FlagTypePercentage,
		Enabled:           true,
		RolloutPercentage: 10,
	})

	var flag api.Flag
	rec := ta.do(t, http.MethodPatch, "/api/v1/flags/new-checkout?environment_key=production", api.UpdateFlagRequest{
		RolloutPercentage: intPtr(50),
	}, &flag)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, flag.RolloutPercentage)
	// Untouched fields survive the patch.
	assert.Equal(t, "New Checkout", flag.Name)
	assert.True(t, flag.Enabled)
}

func TestUpdateFlag_AuditRecordsFieldDiff(t *testing.T) {
	t.Parallel()

	ta := newTestAPI(t)
	ta.createEnvironment(t, "production")
	ta.createFlag(t, api.CreateFlagRequest{
		EnvironmentKey:    "production",
		Key:               "new-checkout",
		Name:              "New Checkout",
		Type:              store.FlagTypePercentage,
		Enabled:           true,
		RolloutPercentage: 10,
	})

	rec := ta.do(t, http.MethodPatch, "/api/v1/flags/new-checkout?environment_key=production", api.UpdateFlagRequest{
		Enabled:           boolPtr(false),
		RolloutPercentage: intPtr(75),
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	entries := ta.store.auditEntries()
	last := entries[len(entries)-1]
	assert.Equal(t, "flag", last.EntityType)
	assert.Equal(t, "new-checkout", last.EntityKey)
	assert.Equal(t, "production", last.EnvironmentKey)
	assert.Equal(t, store.AuditActionUpdated, last.Action)

	var changes map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(last.Changes, &changes))
	require.Contains(t, changes, "enabled")
	assert.Equal(t, true, changes["enabled"]["old"])
	assert.Equal(t, false, changes["enabled"]["new"])
	require.Contains(t, changes, "rollout_percentage")
	assert.Equal(t, float64(10), changes["rollout_percentage"]["old"])
	assert.Equal(t, float64(75), changes["rollout_percentage"]["new"])
	assert.NotContains(t, changes, "name", "unchanged fields stay out of the diff")
}

func TestUpdateFlag_Validation(t *testing.T) {
	t.Parallel()

	ta := newTestAPI(t)
	ta.createEnvironment(t, "production")
	ta.createFlag(t, api.CreateFlagRequest{
		EnvironmentKey: "production", Key: "dark-mode", Name: "Dark Mode", Type: store.FlagTypeBoolean,
	})

	// Empty patch is rejected.
	rec := ta.do(t, http.MethodPatch, "/api/v1/flags/dark-mode?environment_key=production", api.UpdateFlagRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Out-of-range rollout is rejected.
	rec = ta.do(t, http.MethodPatch, "/api/v1/flags/dark-mode?environment_key=production", api.UpdateFlagRequest{
		RolloutPercentage: intPtr(150),
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Blank name is rejected.
	rec = ta.do(t, http.MethodPatch, "/api/v1/flags/dark-mode?environment_key=production", api.UpdateFlagRequest{
		Name: strPtr(""),
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateFlag_NotFound(t *testing.T) {
	t.Parallel()

	ta := newTestAPI(t)
	ta.createEnvironment(t, "production")

	rec := ta.do(t, http.MethodPatch, "/api/v1/flags/ghost?environment_key=production", api.UpdateFlagRequest{
		Enabled: boolPtr(true),
	}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// The write path contract: commit, then invalidate. A subsequent evaluation
// must observe the new configuration immediately.
func TestUpdateFlag_InvalidatesCache(t *testing.T) {
	t.Parallel()

	ta := newTestAPI(t)
	ta.createEnvironment(t, "production")
	ta.createFlag(t, api.CreateFlagRequest{
		EnvironmentKey: "production", Key: "dark-mode", Name: "Dark Mode",
		Type: store.FlagTypeBoolean, Enabled: true,
	})

	var result struct {
		Enabled bool `json:"enabled"`
		Cached  bool `json:"cached"`
	}

	// Warm the cache.
	rec := ta.do(t, http.MethodGet, "/api/v1/evaluate/dark-mode?environment_key=production", nil, &result)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, result.Enabled)

	// Confirm it is actually served from cache.
	rec = ta.do(t, http.MethodGet, "/api/v1/evaluate/dark-mode?environment_key=production", nil, &result)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, result.Cached)

	// Disable the flag.
	rec = ta.do(t, http.MethodPatch, "/api/v1/flags/dark-mode?environment_key=production", api.UpdateFlagRequest{
		Enabled: boolPtr(false),
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The next evaluation sees the change without waiting for the TTL.
	rec = ta.do(t, http.MethodGet, "/api/v1/evaluate/dark-mode?environment_key=production", nil, &result)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, result.Enabled)
	assert.False(t, result.Cached)
}

func TestDeleteFlag(t *testing.T) {
	t.Parallel()

	ta := newTestAPI(t)
	ta.createEnvironment(t, "production")
	ta.createFlag(t, api.CreateFlagRequest{
		EnvironmentKey: "production", Key: "dark-mode", Name: "Dark Mode", Type: store.FlagTypeBoolean,
	})

	rec := ta.do(t, http.MethodDelete, "/api/v1/flags/dark-mode?environment_key=production", nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ta.do(t, http.MethodGet, "/api/v1/flags/dark-mode?environment_key=production", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	entries := ta.store.auditEntries()
	last := entries[len(entries)-1]
	assert.Equal(t, store.AuditActionDeleted, last.Action)
	assert.Empty(t, last.Changes)
}

func TestDeleteFlag_NotFound(t *testing.T) {
	t.Parallel()

	ta := newTestAPI(t)
	ta.createEnvironment(t, "production")

	rec := ta.do(t, http.MethodDelete, "/api/v1/flags/ghost?environment_key=production", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
