// Package config loads and validates the process configuration from a
// file, environment variables (prefix S3XRC), and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "S3XRC"

// Defaults mirrored in the config reference.
const (
	DefaultLevel             = 12
	defaultMaxBatchSize      = 10
	defaultVisibilitySeconds = 300
	defaultTransferCost      = 0.02 / (1 << 30) // $0.02 per GiB transferred
	defaultComputeCost       = 0.003
)

// Load reads configuration from path (optional; falls back to s3xrc.yaml
// in the working directory), environment, and defaults.
func Load(path string) (*Config, error) {
	vp := viper.New()
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	setDefaults(vp)

	resolved := resolveConfigPath(path)
	if resolved != "" {
		vp.SetConfigFile(resolved)
		if err := vp.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", resolved, err)
		}
	}

	var cfg Config
	if err := vp.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyPostLoadDefaults(&cfg)
	return &cfg, nil
}

func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if envPath := os.Getenv("S3XRC_CONFIG"); envPath != "" {
		return envPath
	}
	for _, c := range []string{"s3xrc.yaml", "s3xrc.yml", "s3xrc.toml", "s3xrc.json"} {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("global.log_level", "info")
	vp.SetDefault("global.log_format", "json")
	vp.SetDefault("global.shutdown_timeout", "30s")
	vp.SetDefault("queue.max_messages", defaultMaxBatchSize)
	vp.SetDefault("queue.visibility_seconds", defaultVisibilitySeconds)
	vp.SetDefault("source.max_batch_size", defaultMaxBatchSize)
	vp.SetDefault("source.delete_after_archive", true)
	vp.SetDefault("target.delete_staging_archive", true)
	vp.SetDefault("settings.cache_ttl", "1m")
	vp.SetDefault("compression.default_level", DefaultLevel)
	vp.SetDefault("costs.transfer_cost_per_byte", defaultTransferCost)
	vp.SetDefault("costs.compute_cost_per_minute", defaultComputeCost)
}

func applyPostLoadDefaults(cfg *Config) {
	if cfg.Global.ShutdownTimeout == 0 {
		cfg.Global.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Global.WorkDir == "" {
		cfg.Global.WorkDir = os.TempDir()
	}
	if cfg.Settings.CacheTTL == 0 {
		cfg.Settings.CacheTTL = time.Minute
	}
	if cfg.Compression.DefaultLevel == 0 {
		cfg.Compression.DefaultLevel = DefaultLevel
	}
}

// ValidateSource checks the fields the source pipeline cannot run
// without. Violations are fatal at startup.
func (c *Config) ValidateSource() error {
	var errs []error
	if c.Queue.URL == "" {
		errs = append(errs, errors.New("queue.url is required"))
	}
	if c.Source.StagingBucket == "" {
		errs = append(errs, errors.New("source.staging_bucket is required"))
	}
	if c.Source.RoutingTable == "" {
		errs = append(errs, errors.New("source.routing_table is required"))
	}
	if c.Settings.Table == "" {
		errs = append(errs, errors.New("settings.table is required"))
	}
	errs = append(errs, c.validateCommon()...)
	return errors.Join(errs...)
}

// ValidateTarget checks the fields the target pipeline cannot run
// without.
func (c *Config) ValidateTarget() error {
	var errs []error
	if c.Queue.URL == "" {
		errs = append(errs, errors.New("queue.url is required"))
	}
	if c.Target.Region == "" {
		errs = append(errs, errors.New("target.region is required"))
	}
	errs = append(errs, c.validateCommon()...)
	return errors.Join(errs...)
}

func (c *Config) validateCommon() []error {
	var errs []error
	if l := c.Compression.DefaultLevel; l < 1 || l > 22 {
		errs = append(errs, fmt.Errorf("compression.default_level %d outside [1, 22]", l))
	}
	if c.Costs.TransferCostPerByte < 0 {
		errs = append(errs, errors.New("costs.transfer_cost_per_byte must be non-negative"))
	}
	if c.Costs.ComputeCostPerMinute < 0 {
		errs = append(errs, errors.New("costs.compute_cost_per_minute must be non-negative"))
	}
	if c.Queue.MaxMessages < 0 {
		errs = append(errs, errors.New("queue.max_messages must be non-negative"))
	}
	return errs
}
