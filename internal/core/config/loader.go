package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Pipeline.RunID == "" {
		cfg.Pipeline.RunID = "default"
	}
	if cfg.Pipeline.BatchSize == 0 {
		cfg.Pipeline.BatchSize = 50
	}
	if cfg.Pipeline.FlushThreshold == 0 {
		cfg.Pipeline.FlushThreshold = 500
	}
	if cfg.Pipeline.CacheCapacity == 0 {
		cfg.Pipeline.CacheCapacity = 10_000
	}
	if cfg.Pipeline.CacheTTL == 0 {
		cfg.Pipeline.CacheTTL = time.Hour
	}
	if cfg.Pipeline.FetchConcurrency == 0 {
		cfg.Pipeline.FetchConcurrency = 8
	}
	if cfg.Pipeline.MigrationsDir == "" {
		cfg.Pipeline.MigrationsDir = "migrations"
	}

	return &cfg, nil
}
