// Package config provides the unified configuration for the tidesync service.
// Configuration is loaded from an optional YAML file with TIDESYNC_* environment
// overrides, organized into logical sections:
//   - Store: document store connection
//   - Sync: batch sizes, sampling, scheduling defaults
//   - Logging: level and encoding of the process-wide logger
//   - Metrics: optional prometheus listener
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level service configuration.
type Config struct {
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Sync    SyncConfig    `mapstructure:"sync" yaml:"sync"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// StoreConfig describes the document store connection.
type StoreConfig struct {
	// DSN is the postgres connection string of the document store
	DSN string `mapstructure:"dsn" yaml:"dsn"`
	// CreatedBy is stamped on documents created by this process
	CreatedBy string `mapstructure:"created_by" yaml:"created_by"`
}

// SyncConfig contains sync engine and scheduler settings.
type SyncConfig struct {
	// BatchSize is the number of source rows fetched and diffed per batch
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
	// SampleSize is the number of leading rows sampled for API schema inference
	SampleSize int `mapstructure:"sample_size" yaml:"sample_size"`
	// PollInterval is the wake-up interval of the scheduler loop
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// MaxDuration is the stale-lock timeout applied when a pipeline carries none
	MaxDuration time.Duration `mapstructure:"max_duration" yaml:"max_duration"`
}

// LoggingConfig controls the process-wide logger.
type LoggingConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Encoding    string `mapstructure:"encoding" yaml:"encoding"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// MetricsConfig controls the prometheus listener of the loop command.
type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables the listener
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Default returns a Config with production-ready defaults.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			CreatedBy: "tidesync",
		},
		Sync: SyncConfig{
			BatchSize:    50,
			SampleSize:   10,
			PollInterval: 60 * time.Second,
			MaxDuration:  10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
	}
}

// Load reads configuration from the given YAML file (may be empty for
// environment-only configuration) and applies TIDESYNC_* overrides, e.g.
// TIDESYNC_STORE_DSN or TIDESYNC_SYNC_BATCH_SIZE.
func Load(path string) (*Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("store.dsn", def.Store.DSN)
	v.SetDefault("store.created_by", def.Store.CreatedBy)
	v.SetDefault("sync.batch_size", def.Sync.BatchSize)
	v.SetDefault("sync.sample_size", def.Sync.SampleSize)
	v.SetDefault("sync.poll_interval", def.Sync.PollInterval)
	v.SetDefault("sync.max_duration", def.Sync.MaxDuration)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.encoding", def.Logging.Encoding)
	v.SetDefault("logging.development", def.Logging.Development)
	v.SetDefault("metrics.addr", def.Metrics.Addr)

	v.SetEnvPrefix("TIDESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive")
	}
	if c.Sync.SampleSize <= 0 {
		return fmt.Errorf("sync.sample_size must be positive")
	}
	if c.Sync.PollInterval <= 0 {
		return fmt.Errorf("sync.poll_interval must be positive")
	}
	if c.Sync.MaxDuration <= 0 {
		return fmt.Errorf("sync.max_duration must be positive")
	}
	return nil
}
