package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/beaconlabs/beacon/internal/logger"
	"github.com/beaconlabs/beacon/internal/observability"
	"github.com/beaconlabs/beacon/internal/store"
)

// Engine orchestrates flag evaluation: cache lookup, authoritative fallback,
// cache population, and the rollout decision. It is stateless and reentrant;
// any number of evaluations may run in parallel, including for the same flag,
// and no locks are held across the cache-then-store read path.
type Engine struct {
	store store.EvaluationReader
	cache FlagCache
	ttl   time.Duration
}

// New creates a new Engine. The TTL is applied to every snapshot the engine
// writes back to the cache and bounds the staleness window after a write
// that bypassed explicit invalidation.
func New(reader store.EvaluationReader, cache FlagCache, ttl time.Duration) *Engine {
	if reader == nil {
		panic("evaluator: store reader cannot be nil")
	}
	if cache == nil {
		panic("evaluator: flag cache cannot be nil")
	}
	if ttl <= 0 {
		ttl = 60 * time.Second // Safe default
	}

	return &Engine{
		store: reader,
		cache: cache,
		ttl:   ttl,
	}
}

// Evaluate decides whether flagKey is enabled for userID in environmentKey
// using a cache-aside strategy.
//
// Flow: Cache -> Authoritative Store -> Cache Fill -> Decision
//
// Missing entities and a missing user id are normal disabled results with an
// explanatory reason, never errors. The only hard error is a store transport
// failure, since there is no authoritative fallback beyond the store itself.
// userID may be empty; it is only required for percentage flags.
func (e *Engine) Evaluate(ctx context.Context, flagKey, environmentKey, userID string) (Result, error) {
	log := logger.FromContext(ctx)

	// 1. Cache lookup. Backend failures surface here as a forced miss; the
	// adapter has already logged them.
	if snap, ok := e.cache.GetFlag(ctx, environmentKey, flagKey); ok {
		observability.EvalCacheHits.Inc()
		return e.decide(flagKey, userID, snap, true), nil
	}
	observability.EvalCacheMisses.Inc()

	// 2. Authoritative fallback: resolve the environment first.
	env, err := e.store.FindEnvironmentByKey(ctx, environmentKey)
	if err != nil {
		return Result{}, fmt.Errorf("evaluate %s/%s: %w", environmentKey, flagKey, err)
	}
	if env == nil {
		return Result{
			FlagKey: flagKey,
			Reason:  fmt.Sprintf("environment %q not found", environmentKey),
		}, nil
	}

	flag, err := e.store.FindFlag(ctx, flagKey, env.ID)
	if err != nil {
		return Result{}, fmt.Errorf("evaluate %s/%s: %w", environmentKey, flagKey, err)
	}
	if flag == nil {
		return Result{
			FlagKey: flagKey,
			Reason:  fmt.Sprintf("flag %q not found in environment %q", flagKey, environmentKey),
		}, nil
	}

	// 3. Cache fill (best-effort; a failed write just means the next read
	// takes the store path again).
	snap := &Snapshot{
		Enabled:           flag.Enabled,
		Type:              flag.Type,
		RolloutPercentage: flag.RolloutPercentage,
	}
	e.cache.SetFlag(ctx, environmentKey, flagKey, snap, e.ttl)

	log.Debug("flag snapshot cached",
		slog.String("environment_key", environmentKey),
		slog.String("flag_key", flagKey),
		slog.Duration("ttl", e.ttl),
	)

	return e.decide(flagKey, userID, snap, false), nil
}

// decide computes the final verdict from a snapshot. Deterministic: the same
// snapshot and inputs always produce the same result.
func (e *Engine) decide(flagKey, userID string, snap *Snapshot, cached bool) Result {
	res := Result{FlagKey: flagKey, Cached: cached}

	// Short-circuit: a globally disabled flag is off for everyone.
	if !snap.Enabled {
		res.Reason = "flag is disabled"
		observability.EvalTotal.WithLabelValues(outcomeLabel(false)).Inc()
		return res
	}

	if snap.Type == store.FlagTypeBoolean {
		res.Enabled = true
		res.Reason = "boolean flag is enabled"
		observability.EvalTotal.WithLabelValues(outcomeLabel(true)).Inc()
		return res
	}

	// Percentage rollout. The flag type set is closed and validated at write
	// time, so this branch is the percentage path.
	if userID == "" {
		res.Reason = "percentage flag requires user_id"
		observability.EvalTotal.WithLabelValues(outcomeLabel(false)).Inc()
		return res
	}

	bucket := Bucket(flagKey, userID)
	if bucket < snap.RolloutPercentage {
		res.Enabled = true
		res.Reason = fmt.Sprintf("user bucket %d is within %d%% rollout", bucket, snap.RolloutPercentage)
	} else {
		res.Reason = fmt.Sprintf("user bucket %d is outside %d%% rollout", bucket, snap.RolloutPercentage)
	}

	observability.EvalTotal.WithLabelValues(outcomeLabel(res.Enabled)).Inc()
	return res
}

func outcomeLabel(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
