package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/beaconlabs/beacon/internal/evaluator"
	"github.com/beaconlabs/beacon/internal/observability"
	"github.com/beaconlabs/beacon/internal/validation"
)

// scanBatchSize bounds how many keys one SCAN iteration returns during
// environment-wide eviction.
const scanBatchSize = 100

// Compile-time check that RedisCache satisfies the evaluator contract.
var _ evaluator.FlagCache = (*RedisCache)(nil)

// RedisCache implements evaluator.FlagCache backed by a shared Redis instance.
// Snapshots are stored as JSON strings with a per-entry TTL, so expiry needs
// no cleanup from the caller.
type RedisCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisCache wraps an initialized Redis client (see NewRedisClient).
// If logger is nil, it defaults to slog.Default().
func NewRedisCache(client *redis.Client, logger *slog.Logger) *RedisCache {
	validation.AssertNotNil(client, "redis client")
	if logger == nil {
		logger = slog.Default()
	}

	return &RedisCache{client: client, logger: logger}
}

// GetFlag returns the cached snapshot or (nil, false) on a miss.
// Any backend failure degrades to a forced miss: the evaluation falls
// through to the authoritative store instead of failing the call.
func (c *RedisCache) GetFlag(ctx context.Context, environmentKey, flagKey string) (*evaluator.Snapshot, bool) {
	key := Key(environmentKey, flagKey)

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false // Clean miss
		}

		observability.CacheErrors.WithLabelValues("redis", "get").Inc()
		c.logger.Warn("cache read failed, degrading to miss",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil, false
	}

	var snap evaluator.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// Corrupt entry: treat as a miss and drop it so the next read
		// repopulates a clean snapshot.
		observability.CacheErrors.WithLabelValues("redis", "decode").Inc()
		c.logger.Warn("cache entry corrupt, evicting",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		_ = c.client.Del(ctx, key).Err()
		return nil, false
	}

	return &snap, true
}

// SetFlag unconditionally overwrites the entry with the given TTL.
// Best-effort: a failed write only means the next read takes the store path.
func (c *RedisCache) SetFlag(ctx context.Context, environmentKey, flagKey string, snap *evaluator.Snapshot, ttl time.Duration) {
	key := Key(environmentKey, flagKey)

	payload, err := json.Marshal(snap)
	if err != nil {
		// Snapshot is a plain struct; this cannot realistically fail.
		observability.CacheErrors.WithLabelValues("redis", "encode").Inc()
		c.logger.Error("failed to serialize snapshot", slog.String("key", key), slog.String("error", err.Error()))
		return
	}

	if err := c.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		observability.CacheErrors.WithLabelValues("redis", "set").Inc()
		c.logger.Warn("cache write failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// DeleteFlag evicts a single entry. Deleting an absent key is not an error
// (Redis DEL is naturally idempotent).
func (c *RedisCache) DeleteFlag(ctx context.Context, environmentKey, flagKey string) error {
	key := Key(environmentKey, flagKey)

	if err := c.client.Del(ctx, key).Err(); err != nil {
		observability.CacheErrors.WithLabelValues("redis", "del").Inc()
		return fmt.Errorf("failed to delete cache key %q: %w", key, err)
	}

	return nil
}

// DeleteEnvironment evicts every entry under the environment's namespace.
// SCAN is used instead of KEYS to avoid blocking Redis on large keyspaces;
// deletions happen in batches as the cursor advances.
func (c *RedisCache) DeleteEnvironment(ctx context.Context, environmentKey string) error {
	pattern := EnvironmentPattern(environmentKey)

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			observability.CacheErrors.WithLabelValues("redis", "scan").Inc()
			return fmt.Errorf("failed to scan cache keys for %q: %w", pattern, err)
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				observability.CacheErrors.WithLabelValues("redis", "del").Inc()
				return fmt.Errorf("failed to delete cache keys for %q: %w", pattern, err)
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Close terminates the underlying Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
