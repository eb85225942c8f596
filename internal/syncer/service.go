// Package syncer implements the background cache warmer: it periodically
// walks every environment's flags in PostgreSQL and refreshes their snapshots
// in the cache, so evaluation traffic after a cold start or a cache flush
// mostly hits warm entries instead of stampeding the database.
package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/beaconlabs/beacon/internal/evaluator"
	"github.com/beaconlabs/beacon/internal/observability"
	"github.com/beaconlabs/beacon/internal/store"
)

// Store is the read surface the warmer needs from the database.
type Store interface {
	ListEnvironments(ctx context.Context) ([]*store.Environment, error)
	ListFlags(ctx context.Context, environmentID *int64, limit, offset int) ([]*store.Flag, int64, error)
}

// Config holds the configuration for the Syncer service.
type Config struct {
	// Interval is the duration between warm cycles (polling).
	Interval time.Duration

	// PageSize bounds how many flags one store query returns.
	PageSize int

	// TTL is applied to every snapshot written during a cycle. It should
	// match the evaluator's TTL so warmed and demand-filled entries age
	// the same way.
	TTL time.Duration
}

// Service orchestrates the warm cycles.
type Service struct {
	logger *slog.Logger
	config Config
	repo   Store
	cache  evaluator.FlagCache
}

// New creates a new Syncer service.
func New(logger *slog.Logger, cfg Config, repo Store, flagCache evaluator.FlagCache) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	if repo == nil {
		panic("syncer: store cannot be nil")
	}
	if flagCache == nil {
		panic("syncer: flag cache cannot be nil")
	}

	if cfg.Interval < time.Second {
		cfg.Interval = 60 * time.Second // Safe default
	}
	if cfg.PageSize < 1 {
		cfg.PageSize = 500
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 60 * time.Second
	}

	return &Service{
		logger: logger,
		config: cfg,
		repo:   repo,
		cache:  flagCache,
	}
}

// Run starts the warm loop. It blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting cache warmer",
		slog.String("interval", s.config.Interval.String()),
		slog.Int("page_size", s.config.PageSize),
	)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Run once immediately on startup
	if err := s.warm(ctx); err != nil {
		s.logger.Error("initial warm cycle failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("cache warmer stopping...")
			return nil
		case <-ticker.C:
			if err := s.warm(ctx); err != nil {
				// Log and retry on the next tick; a failed cycle only
				// delays warming, reads still fall back to the store.
				observability.SyncerErrors.Inc()
				s.logger.Error("warm cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// warm performs a single cycle: every flag of every environment is re-read
// from the source of truth and its snapshot overwritten in the cache.
func (s *Service) warm(ctx context.Context) error {
	start := time.Now()
	defer func() {
		observability.SyncerCycleDuration.Observe(time.Since(start).Seconds())
	}()

	envs, err := s.repo.ListEnvironments(ctx)
	if err != nil {
		return err
	}

	warmed := 0
	for _, env := range envs {
		n, err := s.warmEnvironment(ctx, env)
		warmed += n
		if err != nil {
			return err
		}
	}

	observability.SyncerFlagsWarmed.Add(float64(warmed))

	if warmed > 0 {
		s.logger.Info("warm cycle completed",
			slog.Int("environments", len(envs)),
			slog.Int("flags_warmed", warmed),
			slog.String("duration", time.Since(start).String()),
		)
	}
	return nil
}

// warmEnvironment pages through one environment's flags and rewrites their
// snapshots. Returns how many flags were written.
func (s *Service) warmEnvironment(ctx context.Context, env *store.Environment) (int, error) {
	warmed := 0

	for offset := 0; ; offset += s.config.PageSize {
		flags, _, err := s.repo.ListFlags(ctx, &env.ID, s.config.PageSize, offset)
		if err != nil {
			return warmed, err
		}
		if len(flags) == 0 {
			return warmed, nil
		}

		for _, f := range flags {
			snap := &evaluator.Snapshot{
				Enabled:           f.Enabled,
				Type:              f.Type,
				RolloutPercentage: f.RolloutPercentage,
			}
			// SetFlag is best-effort; a failed write is already counted by
			// the cache adapter's error metric.
			s.cache.SetFlag(ctx, env.Key, f.Key, snap, s.config.TTL)
			warmed++
		}

		if len(flags) < s.config.PageSize {
			return warmed, nil
		}
	}
}
