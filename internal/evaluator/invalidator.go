package evaluator

import (
	"context"
	"log/slog"

	"github.com/beaconlabs/beacon/internal/observability"
)

// Invalidator is the hook the administrative write paths call after a flag
// mutation has been durably committed. Commit-then-invalidate ordering bounds
// staleness to the gap between the two; if eviction fails (cache unreachable)
// the authoritative write is NOT rolled back and staleness is instead bounded
// by the entry TTL.
type Invalidator struct {
	cache  FlagCache
	logger *slog.Logger
}

// NewInvalidator creates a new Invalidator.
// If logger is nil, it defaults to slog.Default().
func NewInvalidator(cache FlagCache, logger *slog.Logger) *Invalidator {
	if cache == nil {
		panic("evaluator: flag cache cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Invalidator{
		cache:  cache,
		logger: logger,
	}
}

// FlagChanged evicts the cache entry for a single flag. Called synchronously
// after an update or delete commits.
func (i *Invalidator) FlagChanged(ctx context.Context, environmentKey, flagKey string) {
	if err := i.cache.DeleteFlag(ctx, environmentKey, flagKey); err != nil {
		observability.InvalidationFailures.WithLabelValues("flag").Inc()
		i.logger.Error("flag cache invalidation failed, staleness bounded by TTL",
			slog.String("environment_key", environmentKey),
			slog.String("flag_key", flagKey),
			slog.String("error", err.Error()),
		)
		return
	}

	observability.InvalidationsTotal.WithLabelValues("flag").Inc()
}

// EnvironmentRemoved evicts every cache entry under the environment's
// namespace. Called synchronously after an environment deletion commits.
func (i *Invalidator) EnvironmentRemoved(ctx context.Context, environmentKey string) {
	if err := i.cache.DeleteEnvironment(ctx, environmentKey); err != nil {
		observability.InvalidationFailures.WithLabelValues("environment").Inc()
		i.logger.Error("environment cache invalidation failed, staleness bounded by TTL",
			slog.String("environment_key", environmentKey),
			slog.String("error", err.Error()),
		)
		return
	}

	observability.InvalidationsTotal.WithLabelValues("environment").Inc()
}
