package api_test

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconlabs/beacon/internal/api"
	"github.com/beaconlabs/beacon/internal/cache"
	"github.com/beaconlabs/beacon/internal/evaluator"
)

const testAPIKey = "beacon-test-key"

// newAuthenticatedAPI builds an API with real authentication enabled,
// configured to accept testAPIKey.
func newAuthenticatedAPI(t *testing.T) *testAPI {
	t.Helper()

	st := newFakeStore()

	memCache, err := cache.NewMemoryCache(100, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = memCache.Close() })

	sum := sha256.Sum256([]byte(testAPIKey))
	hash := hex.EncodeToString(sum[:])

	engine := evaluator.New(st, memCache, time.Minute)
	inv := evaluator.NewInvalidator(memCache, nil)

	return &testAPI{
		api:   api.NewAPI(st, engine, inv, hash),
		store: st,
		cache: memCache,
	}
}

func TestAuth_MissingKeyIsRejected(t *testing.T) {
	t.Parallel()

	ta := newAuthenticatedAPI(t)

	rec := ta.do(t, http.MethodGet, "/api/v1/flags", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_InvalidKeyIsRejected(t *testing.T) {
	t.Parallel()

	ta := newAuthenticatedAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/flags", nil)
	req.Header.Set("X-API-Key", "wrong-key")

	rec := httptest.NewRecorder()
	ta.api.Router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_ValidKeyIsAccepted(t *testing.T) {
	t.Parallel()

	ta := newAuthenticatedAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/flags", nil)
	req.Header.Set("X-API-Key", testAPIKey)

	rec := httptest.NewRecorder()
	ta.api.Router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_HealthIsPublic(t *testing.T) {
	t.Parallel()

	ta := newAuthenticatedAPI(t)

	rec := ta.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewAPI_PanicsWithoutKeyHash(t *testing.T) {
	t.Parallel()

	st := newFakeStore()

	memCache, err := cache.NewMemoryCache(10, time.Minute)
	require.NoError(t, err)
	defer memCache.Close()

	engine := evaluator.New(st, memCache, time.Minute)
	inv := evaluator.NewInvalidator(memCache, nil)

	assert.Panics(t, func() { api.NewAPI(st, engine, inv, "") })
}
