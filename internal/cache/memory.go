package cache

import (
	"context"
	"strings"
	"time"

	"github.com/maypok86/otter"

	"github.com/beaconlabs/beacon/internal/evaluator"
)

var _ evaluator.FlagCache = (*MemoryCache)(nil)

// MemoryCache implements evaluator.FlagCache with an in-process cache using
// a contention-free algorithm (S3-FIFO) provided by the 'otter' library.
// It is intended for single-instance deployments and tests; invalidation
// only reaches the local process.
type MemoryCache struct {
	store otter.Cache[string, *evaluator.Snapshot]
}

// NewMemoryCache initializes the in-memory cache with strict limits.
// capacity: Max number of items (Hard Cap to prevent OOM).
// ttl: Time-To-Live for items (Safety net for eventual consistency).
func NewMemoryCache(capacity int, ttl time.Duration) (*MemoryCache, error) {
	builder := otter.MustBuilder[string, *evaluator.Snapshot](capacity).
		WithTTL(ttl)

	cache, err := builder.Build()
	if err != nil {
		return nil, err
	}

	return &MemoryCache{store: cache}, nil
}

// GetFlag retrieves a snapshot from memory.
// This operation is virtually lock-free and extremely fast.
func (c *MemoryCache) GetFlag(_ context.Context, environmentKey, flagKey string) (*evaluator.Snapshot, bool) {
	return c.store.Get(Key(environmentKey, flagKey))
}

// SetFlag adds or updates a snapshot in memory. The TTL configured in
// NewMemoryCache applies; the per-call ttl argument is accepted for
// interface compatibility but otter manages expiry cache-wide.
func (c *MemoryCache) SetFlag(_ context.Context, environmentKey, flagKey string, snap *evaluator.Snapshot, _ time.Duration) {
	c.store.Set(Key(environmentKey, flagKey), snap)
}

// DeleteFlag removes a single snapshot from memory.
func (c *MemoryCache) DeleteFlag(_ context.Context, environmentKey, flagKey string) error {
	c.store.Delete(Key(environmentKey, flagKey))
	return nil
}

// DeleteEnvironment removes every snapshot under an environment's namespace.
func (c *MemoryCache) DeleteEnvironment(_ context.Context, environmentKey string) error {
	prefix := environmentPrefix(environmentKey)

	var keys []string
	c.store.Range(func(key string, _ *evaluator.Snapshot) bool {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return true
	})

	for _, key := range keys {
		c.store.Delete(key)
	}

	return nil
}

// Close gracefully shuts down the cache and its background cleanup goroutines.
func (c *MemoryCache) Close() error {
	c.store.Close()
	return nil
}
