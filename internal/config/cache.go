package config

import (
	"fmt"
	"time"
)

// Cache backend identifiers.
const (
	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"
)

// CacheConfig contains settings for the flag snapshot cache.
type CacheConfig struct {
	// Backend selects the cache implementation. Redis is the default for
	// multi-instance deployments; memory is for tests and single-node setups.
	Backend string `envconfig:"BACKEND" default:"redis" validate:"oneof=redis memory"`

	// TTL bounds the maximum staleness window for a cached snapshot after a
	// write that did not go through explicit invalidation.
	TTL time.Duration `envconfig:"TTL" default:"60s" validate:"min=1s"`

	// MemoryCapacity is the hard item cap for the in-memory backend.
	MemoryCapacity int `envconfig:"MEMORY_CAPACITY" default:"10000" validate:"min=1"`
}

// Validate checks CacheConfig fields for correctness.
func (c *CacheConfig) Validate() error {
	if c.TTL < time.Second {
		return fmt.Errorf("cache TTL must be at least 1s, got %s", c.TTL)
	}
	if c.MemoryCapacity < 1 {
		return fmt.Errorf("cache memory capacity must be positive, got %d", c.MemoryCapacity)
	}
	return nil
}
