// Package cache provides the caching layer for flag snapshots.
// It offers two implementations of the evaluator's FlagCache contract:
// a Redis-backed adapter for multi-instance deployments and an in-memory
// adapter (otter) for tests and single-node setups. Both handle key
// namespacing and serialization; both absorb backend failures so a cache
// problem can never block an evaluation.
package cache

import "fmt"

// KeyPrefix is the namespace used for all flag snapshot keys.
// Example: "flag:production:new-checkout"
const KeyPrefix = "flag"

// Key builds the cache key for a flag inside an environment. The exact
// format is a published contract consumed by any cache backend: the
// environment segment makes namespace-wide eviction a prefix operation.
func Key(environmentKey, flagKey string) string {
	return fmt.Sprintf("%s:%s:%s", KeyPrefix, environmentKey, flagKey)
}

// EnvironmentPattern returns the glob pattern matching every key under an
// environment's namespace (Redis SCAN MATCH syntax).
func EnvironmentPattern(environmentKey string) string {
	return fmt.Sprintf("%s:%s:*", KeyPrefix, environmentKey)
}

// environmentPrefix returns the literal prefix shared by every key under an
// environment's namespace, used by the in-memory adapter.
func environmentPrefix(environmentKey string) string {
	return fmt.Sprintf("%s:%s:", KeyPrefix, environmentKey)
}
