// Package evaluator implements the core feature flag evaluation engine:
// a cache-aside read path over the authoritative store, deterministic user
// bucketing for gradual rollouts, and the cache invalidation hook used by
// the administrative write paths.
package evaluator

import (
	"context"
	"time"

	"github.com/beaconlabs/beacon/internal/store"
)

// Snapshot is the ephemeral, denormalized projection of a flag's
// evaluation-relevant fields, as stored in the cache. It is never
// authoritative: on expiry or eviction it is silently regenerated from the
// store. The JSON field names are the cache wire format.
type Snapshot struct {
	// Enabled is the flag's master switch.
	Enabled bool `json:"enabled"`

	// Type discriminates boolean and percentage flags. The set is closed and
	// validated at write time, so the engine never sees an unknown variant.
	Type store.FlagType `json:"flag_type"`

	// RolloutPercentage is the gradual rollout threshold in [0, 100].
	// Only meaningful for percentage flags.
	RolloutPercentage int `json:"rollout_percentage"`
}

// Result is the outcome of one evaluation call. It is transient: every call
// produces a definitive Enabled boolean plus a human-readable Reason, and
// nothing is persisted.
type Result struct {
	FlagKey string `json:"flag_key"`
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason"`
	Cached  bool   `json:"cached"`
}

// FlagCache is the narrow cache contract consumed by the engine and the
// invalidation hook. It is an injected dependency, never a process-wide
// singleton, so tests can substitute an in-memory implementation without
// touching engine logic.
//
// Failure semantics: a cache backend failure must never block a read.
// GetFlag degrades to a forced miss and SetFlag is best-effort; both absorb
// backend errors (the adapter logs them). The delete operations return the
// error so invalidation callers can log it, but a failed invalidation is
// never rolled back into the write path: staleness is then bounded by the
// entry TTL.
type FlagCache interface {
	// GetFlag returns the cached snapshot for (environmentKey, flagKey),
	// or (nil, false) on a miss or backend failure.
	GetFlag(ctx context.Context, environmentKey, flagKey string) (*Snapshot, bool)

	// SetFlag unconditionally overwrites the entry with the given TTL.
	// The entry is visible to subsequent GetFlag calls immediately.
	SetFlag(ctx context.Context, environmentKey, flagKey string, snap *Snapshot, ttl time.Duration)

	// DeleteFlag evicts a single entry. Deleting an absent key is not an error.
	DeleteFlag(ctx context.Context, environmentKey, flagKey string) error

	// DeleteEnvironment evicts every entry under the environment's namespace.
	DeleteEnvironment(ctx context.Context, environmentKey string) error
}
