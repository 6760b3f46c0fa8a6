// Package config holds all mindcore configuration. Files are YAML (JSON is
// a valid subset for yaml.v3); environment variables prefixed MINDCORE_
// override individual fields after load.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Dialect    string            `yaml:"dialect"` // embedded | networked
	Connection ConnectionConfig  `yaml:"connection"`

	Introspection IntrospectionConfig `yaml:"introspection"`
	Cache         CacheConfig         `yaml:"cache"`
	Logging       LoggingConfig       `yaml:"logging"`
	Performance   PerformanceConfig   `yaml:"performance"`
	Automation    AutomationConfig    `yaml:"automation"`
	Optimization  OptimizationConfig  `yaml:"optimization"`
	Agentic       AgenticConfig       `yaml:"agentic"`
}

// LoggingConfig mirrors logging.Config in serializable form.
type LoggingConfig struct {
	Level      string          `yaml:"level"` // debug|info|warn|error
	Enabled    bool            `yaml:"enabled"`
	File       string          `yaml:"file"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration: embedded engine, WAL on,
// FK on, 64 MB page cache, LRU cache of 1000 entries.
func DefaultConfig() *Config {
	return &Config{
		Dialect: "embedded",
		Connection: ConnectionConfig{
			Path: "data/mindcore.db",
			Pool: PoolConfig{Max: 10, Min: 1, IdleMS: 30_000},
		},
		Introspection: IntrospectionConfig{
			IncludeViews: true,
		},
		Cache: CacheConfig{
			TTLMS:    60_000,
			MaxSize:  1000,
			Strategy: "lru",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Enabled: false,
		},
		Performance: PerformanceConfig{
			QueryOptimization: true,
			BatchLoading:      true,
			MaxBatch:          500,
		},
		Automation: AutomationConfig{
			AutoOptimize:         true,
			AutoIndex:            false,
			IndexRecommendations: true,
			MigrationGeneration:  true,
		},
		Optimization: OptimizationConfig{
			WAL:             true,
			ForeignKeys:     true,
			CacheSizeKiBNeg: -65536, // negative KiB per SQLite convention, ~64 MB
			Synchronous:     "NORMAL",
			TempStore:       "MEMORY",
		},
		Agentic: DefaultAgenticConfig(),
	}
}

// Load reads a config file, layers it over defaults, applies env overrides
// and validates. path may be empty to use defaults + env only.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments tweak fields without a file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MINDCORE_DIALECT"); v != "" {
		c.Dialect = v
	}
	if v := os.Getenv("MINDCORE_DB_PATH"); v != "" {
		c.Connection.Path = v
	}
	if v := os.Getenv("MINDCORE_DATABASE_URL"); v != "" {
		c.Connection.URL = v
	}
	if v := os.Getenv("MINDCORE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
		c.Logging.Enabled = true
	}
	if v := os.Getenv("MINDCORE_CACHE_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Cache.MaxSize = n
		}
	}
	if v := os.Getenv("MINDCORE_VECTOR_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Agentic.Vector.Dimensions = n
		}
	}
	if v := os.Getenv("MINDCORE_VERIFICATION_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Agentic.Evolution.VerificationWindow = n
		}
	}
}

// Validate rejects configurations that cannot produce a working engine.
func (c *Config) Validate() error {
	switch c.Dialect {
	case "embedded", "networked":
	default:
		return fmt.Errorf("config: unknown dialect %q (want embedded or networked)", c.Dialect)
	}
	switch c.Optimization.Synchronous {
	case "OFF", "NORMAL", "FULL":
	default:
		return fmt.Errorf("config: invalid synchronous level %q", c.Optimization.Synchronous)
	}
	switch c.Optimization.TempStore {
	case "DEFAULT", "FILE", "MEMORY":
	default:
		return fmt.Errorf("config: invalid temp_store %q", c.Optimization.TempStore)
	}
	switch c.Cache.Strategy {
	case "lru", "fifo":
	default:
		return fmt.Errorf("config: invalid cache strategy %q", c.Cache.Strategy)
	}
	if c.Cache.MaxSize <= 0 {
		return fmt.Errorf("config: cache max_size must be positive")
	}
	if c.Agentic.Vector.Dimensions <= 0 {
		return fmt.Errorf("config: vector dimensions must be positive")
	}
	if c.Agentic.Evolution.VerificationWindow <= 0 {
		return fmt.Errorf("config: evolution verification_window must be positive")
	}
	if a := c.Agentic.Evolution.MutationAggressiveness; a < 0 || a > 1 {
		return fmt.Errorf("config: mutation_aggressiveness must be within [0,1]")
	}
	if c.Agentic.Evolution.MaxSandboxSkills <= 0 {
		return fmt.Errorf("config: max_sandbox_skills must be positive")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log level %q", c.Logging.Level)
	}
	return nil
}
