// Package config loads the runtime's top-level YAML configuration.
package config

import (
	"time"

	"github.com/vietddude/chainindex/internal/events"
	"github.com/vietddude/chainindex/internal/storage/postgres"
)

// AppConfig is the top-level configuration for the indexer runtime.
type AppConfig struct {
	Server   ServerConfig    `yaml:"server"`
	Database postgres.Config `yaml:"database"`
	Redis    events.Config   `yaml:"redis"`
	Logging  LoggingConfig   `yaml:"logging"`
	Pipeline PipelineConfig  `yaml:"pipeline"`
}

// ServerConfig holds HTTP server settings for the metrics/health endpoint.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// PipelineConfig tunes the block dispatch pipeline and cache controller.
type PipelineConfig struct {
	// RunID identifies this deployment's persisted watermark row — keep
	// stable across restarts of the same logical pipeline so it resumes
	// rather than re-indexing from genesis.
	RunID string `yaml:"run_id"`
	// BatchSize is C9's fetch/task-submission batch size.
	BatchSize int `yaml:"batch_size"`
	// FlushThreshold is C7's summed pending-record trigger.
	FlushThreshold int `yaml:"flush_threshold"`
	// CacheCapacity / CacheTTL configure every C5 instance's C4 read cache.
	CacheCapacity int           `yaml:"cache_capacity"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	// FetchConcurrency bounds BoundedBatchFetcher's in-flight requests.
	FetchConcurrency int `yaml:"fetch_concurrency"`
	// MigrationsDir points at the goose migrations directory.
	MigrationsDir string `yaml:"migrations_dir"`
}
