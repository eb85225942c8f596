//go:build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconlabs/beacon/internal/evaluator"
	"github.com/beaconlabs/beacon/internal/store"
	"github.com/beaconlabs/beacon/internal/testsupport"
)

func TestRedisCache_Integration(t *testing.T) {
	ctx := context.Background()

	redisCtr, err := testsupport.StartRedisContainer(ctx)
	require.NoError(t, err)
	defer redisCtr.Terminate(ctx)

	appCache := redisCtr.Cache
	spy := redisCtr.Client

	snap := &evaluator.Snapshot{
		Enabled:           true,
		Type:              store.FlagTypePercentage,
		RolloutPercentage: 40,
	}

	t.Run("round trip stores JSON under the namespaced key", func(t *testing.T) {
		appCache.SetFlag(ctx, "production", "new-checkout", snap, time.Minute)

		raw, err := spy.Get(ctx, "flag:production:new-checkout").Result()
		require.NoError(t, err)
		assert.Contains(t, raw, `"rollout_percentage":40`)

		got, ok := appCache.GetFlag(ctx, "production", "new-checkout")
		require.True(t, ok)
		assert.Equal(t, snap, got)
	})

	t.Run("entries carry a TTL", func(t *testing.T) {
		appCache.SetFlag(ctx, "production", "dark-mode", snap, 30*time.Second)

		ttl, err := spy.TTL(ctx, "flag:production:dark-mode").Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))
		assert.LessOrEqual(t, ttl, 30*time.Second)
	})

	t.Run("corrupt entry degrades to miss and self-heals", func(t *testing.T) {
		key := "flag:production:broken"
		require.NoError(t, spy.Set(ctx, key, "not-json", time.Minute).Err())

		got, ok := appCache.GetFlag(ctx, "production", "broken")
		assert.False(t, ok)
		assert.Nil(t, got)

		// The corrupt value must have been evicted.
		exists, err := spy.Exists(ctx, key).Result()
		require.NoError(t, err)
		assert.Zero(t, exists)
	})

	t.Run("DeleteFlag evicts a single entry", func(t *testing.T) {
		appCache.SetFlag(ctx, "production", "beta-banner", snap, time.Minute)

		require.NoError(t, appCache.DeleteFlag(ctx, "production", "beta-banner"))

		_, ok := appCache.GetFlag(ctx, "production", "beta-banner")
		assert.False(t, ok)
	})

	t.Run("DeleteEnvironment evicts only that environment", func(t *testing.T) {
		appCache.SetFlag(ctx, "prod", "a", snap, time.Minute)
		appCache.SetFlag(ctx, "prod", "b", snap, time.Minute)
		appCache.SetFlag(ctx, "staging", "a", snap, time.Minute)

		require.NoError(t, appCache.DeleteEnvironment(ctx, "prod"))

		_, ok := appCache.GetFlag(ctx, "prod", "a")
		assert.False(t, ok)
		_, ok = appCache.GetFlag(ctx, "prod", "b")
		assert.False(t, ok)
		_, ok = appCache.GetFlag(ctx, "staging", "a")
		assert.True(t, ok)
	})
}
