package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/beaconlabs/beacon/internal/api"
	"github.com/beaconlabs/beacon/internal/cache"
	"github.com/beaconlabs/beacon/internal/evaluator"
	"github.com/beaconlabs/beacon/internal/store"
)

// fakeStore is an in-memory implementation of the api.Store surface. It obeys
// the repository contracts: (nil, nil) for absent reads, sentinel errors for
// absent mutation targets, and duplicate detection on natural keys.
type fakeStore struct {
	mu     sync.Mutex
	envs   map[string]*store.Environment
	flags  map[int64]map[string]*store.Flag
	audit  []*store.AuditEntry
	nextID int64

	// failAll makes every operation return a transport-style error.
	failAll bool
}

var errStoreDown = errors.New("connection refused")

func newFakeStore() *fakeStore {
	return &fakeStore{
		envs:  make(map[string]*store.Environment),
		flags: make(map[int64]map[string]*store.Flag),
	}
}

func (s *fakeStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *fakeStore) CreateEnvironment(_ context.Context, e *store.Environment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errStoreDown
	}
	if _, ok := s.envs[e.Key]; ok {
		return store.ErrDuplicateKey
	}
	e.ID = s.id()
	e.CreatedAt = time.Now().UTC()
	s.envs[e.Key] = e
	s.flags[e.ID] = make(map[string]*store.Flag)
	return nil
}

func (s *fakeStore) ListEnvironments(_ context.Context) ([]*store.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, errStoreDown
	}
	out := make([]*store.Environment, 0, len(s.envs))
	for _, e := range s.envs {
		out = append(out, e)
	}
	return out, nil
}

func (s *fakeStore) FindEnvironmentByKey(_ context.Context, key string) (*store.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, errStoreDown
	}
	return s.envs[key], nil
}

func (s *fakeStore) DeleteEnvironment(_ context.Context, key string) (*store.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, errStoreDown
	}
	e, ok := s.envs[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	delete(s.envs, key)
	delete(s.flags, e.ID)
	return e, nil
}

func (s *fakeStore) CreateFlag(_ context.Context, f *store.Flag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errStoreDown
	}
	byKey, ok := s.flags[f.EnvironmentID]
	if !ok {
		return store.ErrNotFound
	}
	if _, ok := byKey[f.Key]; ok {
		return store.ErrDuplicateKey
	}
	f.ID = s.id()
	f.CreatedAt = time.Now().UTC()
	f.UpdatedAt = f.CreatedAt
	byKey[f.Key] = f
	return nil
}

func (s *fakeStore) ListFlags(_ context.Context, environmentID *int64, limit, offset int) ([]*store.Flag, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, 0, errStoreDown
	}
	var all []*store.Flag
	for envID, byKey := range s.flags {
		if environmentID != nil && envID != *environmentID {
			continue
		}
		for _, f := range byKey {
			all = append(all, f)
		}
	}
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (s *fakeStore) FindFlag(_ context.Context, key string, environmentID int64) (*store.Flag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, errStoreDown
	}
	return s.flags[environmentID][key], nil
}

func (s *fakeStore) UpdateFlag(_ context.Context, environmentID int64, key string, patch store.FlagPatch) (*store.Flag, *store.Flag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, nil, errStoreDown
	}
	f, ok := s.flags[environmentID][key]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	old := *f
	if patch.Name != nil {
		f.Name = *patch.Name
	}
	if patch.Description != nil {
		f.Description = *patch.Description
	}
	if patch.Type != nil {
		f.Type = *patch.Type
	}
	if patch.Enabled != nil {
		f.Enabled = *patch.Enabled
	}
	if patch.RolloutPercentage != nil {
		f.RolloutPercentage = *patch.RolloutPercentage
	}
	f.UpdatedAt = time.Now().UTC()
	return &old, f, nil
}

func (s *fakeStore) DeleteFlag(_ context.Context, environmentID int64, key string) (*store.Flag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, errStoreDown
	}
	f, ok := s.flags[environmentID][key]
	if !ok {
		return nil, store.ErrNotFound
	}
	delete(s.flags[environmentID], key)
	return f, nil
}

func (s *fakeStore) RecordAudit(_ context.Context, e *store.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errStoreDown
	}
	e.ID = s.id()
	e.CreatedAt = time.Now().UTC()
	s.audit = append(s.audit, e)
	return nil
}

func (s *fakeStore) ListAudit(_ context.Context, filter store.AuditFilter, limit, offset int) ([]*store.AuditEntry, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, 0, errStoreDown
	}
	var matched []*store.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- { // newest first
		e := s.audit[i]
		if filter.EntityType != "" && e.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityKey != "" && e.EntityKey != filter.EntityKey {
			continue
		}
		matched = append(matched, e)
	}
	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (s *fakeStore) auditEntries() []*store.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*store.AuditEntry(nil), s.audit...)
}

// --- Test harness ---

type testAPI struct {
	api   *api.API
	store *fakeStore
	cache *cache.MemoryCache
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	st := newFakeStore()

	memCache, err := cache.NewMemoryCache(100, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = memCache.Close() })

	engine := evaluator.New(st, memCache, time.Minute)
	inv := evaluator.NewInvalidator(memCache, nil)

	return &testAPI{
		api:   api.NewAPIWithConfig(st, engine, inv, "", true),
		store: st,
		cache: memCache,
	}
}

// do executes a request against the router and decodes the JSON body into out
// (when out is non-nil).
func (ta *testAPI) do(t *testing.T, method, target string, body interface{}, out interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	ta.api.Router.ServeHTTP(rec, req)

	if out != nil && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}

	return rec
}

// createEnvironment seeds an environment through the public API.
func (ta *testAPI) createEnvironment(t *testing.T, key string) api.Environment {
	t.Helper()

	var env api.Environment
	rec := ta.do(t, http.MethodPost, "/api/v1/environments", api.CreateEnvironmentRequest{
		Key:  key,
		Name: key,
	}, &env)
	require.Equal(t, http.StatusCreated, rec.Code)

	return env
}

// createFlag seeds a flag through the public API.
func (ta *testAPI) createFlag(t *testing.T, req api.CreateFlagRequest) api.Flag {
	t.Helper()

	var flag api.Flag
	rec := ta.do(t, http.MethodPost, "/api/v1/flags", req, &flag)
	require.Equal(t, http.StatusCreated, rec.Code)

	return flag
}
