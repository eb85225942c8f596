package config

import "time"

// SyncerConfig contains configuration for the cache warmer worker.
type SyncerConfig struct {
	Enabled  bool          `envconfig:"ENABLED" default:"false"`
	Interval time.Duration `envconfig:"INTERVAL" default:"60s" validate:"min=1s"`
	// PageSize bounds how many flags are loaded from the store per batch.
	PageSize int `envconfig:"PAGE_SIZE" default:"500" validate:"min=1"`
}
