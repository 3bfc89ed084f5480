// Package config loads sstash's ancillary settings (data directory, log
// level, snapshot cadence, capacity limits) from a config file, environment
// variables, and CLI flags. The primary/read-only ports and optional master
// address are positional CLI arguments and are not part of this struct.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the ancillary settings for an sstash node.
type Config struct {
	DataDir string `mapstructure:"data_dir"`

	LogLevel string `mapstructure:"log_level"`

	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
	TTLSweepInterval time.Duration `mapstructure:"ttl_sweep_interval"`

	StripeCount int `mapstructure:"stripe_count"`
	MaxStashes  int `mapstructure:"max_stashes"`

	MaxKeyCount int `mapstructure:"max_key_count"`

	ReplicationBufferSize int `mapstructure:"replication_buffer_size"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		DataDir:               ".",
		LogLevel:              "info",
		SnapshotInterval:      60 * time.Second,
		TTLSweepInterval:      1 * time.Second,
		StripeCount:           16,
		MaxStashes:            64,
		MaxKeyCount:           1_000_000,
		ReplicationBufferSize: 4096,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
	}
}

// Load loads configuration from environment variables, an optional config
// file, and command line flags already bound to viper.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("sstash")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/sstash/")
	viper.AddConfigPath("$HOME/.sstash")

	viper.SetEnvPrefix("SSTASH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("data_dir", cfg.DataDir)
	viper.SetDefault("log_level", cfg.LogLevel)
	viper.SetDefault("snapshot_interval", cfg.SnapshotInterval)
	viper.SetDefault("ttl_sweep_interval", cfg.TTLSweepInterval)
	viper.SetDefault("stripe_count", cfg.StripeCount)
	viper.SetDefault("max_stashes", cfg.MaxStashes)
	viper.SetDefault("max_key_count", cfg.MaxKeyCount)
	viper.SetDefault("replication_buffer_size", cfg.ReplicationBufferSize)
	viper.SetDefault("read_timeout", cfg.ReadTimeout)
	viper.SetDefault("write_timeout", cfg.WriteTimeout)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for obviously invalid values.
func (c *Config) Validate() error {
	if c.StripeCount < 1 {
		return fmt.Errorf("stripe_count must be at least 1")
	}
	if c.MaxStashes < 1 {
		return fmt.Errorf("max_stashes must be at least 1")
	}
	if c.MaxKeyCount < 1 {
		return fmt.Errorf("max_key_count must be at least 1")
	}
	if c.TTLSweepInterval < 1 {
		return fmt.Errorf("ttl_sweep_interval must be positive")
	}
	if c.ReplicationBufferSize < 1 {
		return fmt.Errorf("replication_buffer_size must be at least 1")
	}

	validLevels := []string{"trace", "debug", "info", "warn", "error", "fatal"}
	ok := false
	for _, lvl := range validLevels {
		if c.LogLevel == lvl {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLevels, ", "))
	}

	return nil
}

func (c *Config) String() string {
	return fmt.Sprintf("sstash config: data_dir=%s log_level=%s snapshot_interval=%v stripes=%d",
		c.DataDir, c.LogLevel, c.SnapshotInterval, c.StripeCount)
}
