package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace defines the global prefix for all metrics (e.g., beacon_...).
const namespace = "beacon"

// lowLatencyBuckets defines custom buckets for the evaluation hot path.
// Standard buckets are too coarse (starting at 5ms), so we add 1ms and 2ms
// resolution. Range: 1ms to 500ms.
var lowLatencyBuckets = []float64{.001, .002, .005, .010, .015, .020, .025, .030, .050, .100, .500}

var (
	// -------------------------------------------------------------------------
	// HTTP API
	// -------------------------------------------------------------------------

	// HTTPReqDuration measures the latency of HTTP requests.
	// Metric: beacon_api_http_handling_seconds
	HTTPReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	// HTTPReqTotal counts the total number of HTTP requests.
	// Metric: beacon_api_http_requests_total
	HTTPReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests",
	}, []string{"method", "path", "code"})

	// -------------------------------------------------------------------------
	// EVALUATION ENGINE
	// -------------------------------------------------------------------------

	// EvalDuration measures the latency of flag evaluations end to end
	// (cache lookup, store fallback, decision).
	// Metric: beacon_eval_handling_seconds
	EvalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "eval",
		Name:      "handling_seconds",
		Help:      "Time taken to evaluate a flag",
		Buckets:   lowLatencyBuckets, // Hot path: sub-20ms expected on cache hits
	})

	// EvalTotal counts evaluations by final outcome.
	// Metric: beacon_eval_requests_total
	EvalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "eval",
		Name:      "requests_total",
		Help:      "Total flag evaluations by outcome",
	}, []string{"outcome"})

	// EvalCacheHits counts evaluations served from the snapshot cache.
	EvalCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "eval",
		Name:      "cache_hits_total",
		Help:      "Total snapshot cache hits",
	})

	// EvalCacheMisses counts evaluations that fell through to the store.
	// Includes forced misses caused by cache backend failures.
	EvalCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "eval",
		Name:      "cache_misses_total",
		Help:      "Total snapshot cache misses",
	})

	// -------------------------------------------------------------------------
	// CACHE LAYER
	// -------------------------------------------------------------------------

	// CacheErrors counts cache backend failures that were degraded to a miss
	// or absorbed on write. A rising rate means the backend is unhealthy while
	// evaluations keep being served from the store.
	// Metric: beacon_cache_errors_total
	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "errors_total",
		Help:      "Total cache backend errors absorbed by the adapters",
	}, []string{"backend", "op"})

	// InvalidationsTotal counts successful cache evictions by scope.
	InvalidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "invalidations_total",
		Help:      "Total cache invalidations",
	}, []string{"scope"})

	// InvalidationFailures counts evictions that failed; staleness is then
	// bounded by the entry TTL.
	InvalidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "invalidation_failures_total",
		Help:      "Total failed cache invalidations",
	}, []string{"scope"})

	// -------------------------------------------------------------------------
	// SYNCER (cache warmer)
	// -------------------------------------------------------------------------

	// SyncerCycleDuration measures the duration of one full warm cycle.
	SyncerCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "cycle_seconds",
		Help:      "Time taken to complete one cache warm cycle",
		Buckets:   prometheus.DefBuckets,
	})

	// SyncerFlagsWarmed counts flag snapshots written during warm cycles.
	SyncerFlagsWarmed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "flags_warmed_total",
		Help:      "Total flag snapshots refreshed by the warmer",
	})

	// SyncerErrors counts per-flag or per-cycle warm failures.
	SyncerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "errors_total",
		Help:      "Total cache warmer errors",
	})
)
