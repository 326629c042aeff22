// Package config loads memgraph settings from defaults, an optional config
// file and MEMGRAPH_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all memgraph settings.
type Config struct {
	DataDir string        `mapstructure:"data_dir"`
	Log     LogConfig     `mapstructure:"log"`
	Memory  MemoryConfig  `mapstructure:"memory"`
	Graph   GraphConfig   `mapstructure:"graph"`
	Rollout RolloutConfig `mapstructure:"rollout"`
	Health  HealthConfig  `mapstructure:"health"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
	File   string `mapstructure:"file"`
}

// MemoryConfig configures the memory store.
type MemoryConfig struct {
	MaxContentLength int `mapstructure:"max_content_length"`
	MaxSearchResults int `mapstructure:"max_search_results"`
}

// GraphConfig configures the graph store, sync and the graph path.
type GraphConfig struct {
	AutoMigrate       bool          `mapstructure:"auto_migrate"`
	AsyncSync         bool          `mapstructure:"async_sync"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxNodesPerMemory int           `mapstructure:"max_nodes_per_memory"`
	MinConfidence     float64       `mapstructure:"min_confidence"`
	MinCandidates     int           `mapstructure:"min_candidates"`
	SeedLimit         int           `mapstructure:"seed_limit"`
	// SchemaRecheck is how long an absent graph schema is trusted before
	// it is probed again.
	SchemaRecheck time.Duration `mapstructure:"schema_recheck"`
}

// RolloutConfig configures the rollout controller and recorder.
type RolloutConfig struct {
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	RecorderBuffer int           `mapstructure:"recorder_buffer"`
}

// HealthConfig configures the periodic health snapshot.
type HealthConfig struct {
	// Schedule is a cron spec; empty disables the monitor.
	Schedule string `mapstructure:"schedule"`
	// WarnFallbackRate is the 24h fallback rate that escalates the log level.
	WarnFallbackRate float64 `mapstructure:"warn_fallback_rate"`
}

// MetricsConfig configures the Prometheus listener.
type MetricsConfig struct {
	// Addr is the listen address; empty disables the listener.
	Addr string `mapstructure:"addr"`
}

// DefaultDataDir returns ~/.memgraph.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".memgraph"
	}
	return filepath.Join(home, ".memgraph")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.file", "")

	v.SetDefault("memory.max_content_length", 4000)
	v.SetDefault("memory.max_search_results", 50)

	v.SetDefault("graph.auto_migrate", true)
	v.SetDefault("graph.async_sync", true)
	v.SetDefault("graph.timeout", 250*time.Millisecond)
	v.SetDefault("graph.max_nodes_per_memory", 24)
	v.SetDefault("graph.min_confidence", 0.0)
	v.SetDefault("graph.min_candidates", 1)
	v.SetDefault("graph.seed_limit", 5)
	v.SetDefault("graph.schema_recheck", 30*time.Second)

	v.SetDefault("rollout.cache_ttl", 5*time.Second)
	v.SetDefault("rollout.recorder_buffer", 256)

	v.SetDefault("health.schedule", "@every 15m")
	v.SetDefault("health.warn_fallback_rate", 0.5)

	v.SetDefault("metrics.addr", "")
}

// Load reads configuration. With an empty path it looks for config.yaml in
// the data directory and the working directory; a missing file is not an
// error. An explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MEMGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(v.GetString("data_dir"))
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config: read: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DataDir) == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.Graph.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("graph.timeout must be positive, got %s", c.Graph.Timeout))
	}
	if c.Graph.MinConfidence < 0 || c.Graph.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("graph.min_confidence must be within [0,1], got %g", c.Graph.MinConfidence))
	}
	if c.Graph.MaxNodesPerMemory <= 0 {
		errs = append(errs, fmt.Errorf("graph.max_nodes_per_memory must be positive, got %d", c.Graph.MaxNodesPerMemory))
	}
	if c.Rollout.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("rollout.cache_ttl must not be negative, got %s", c.Rollout.CacheTTL))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
