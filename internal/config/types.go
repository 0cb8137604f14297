package config

import "time"

// Config is the root configuration schema, shared by the source and
// target commands.
type Config struct {
	Global      GlobalConfig      `mapstructure:"global"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Source      SourceConfig      `mapstructure:"source"`
	Target      TargetConfig      `mapstructure:"target"`
	Settings    SettingsConfig    `mapstructure:"settings"`
	Compression CompressionConfig `mapstructure:"compression"`
	Costs       CostsConfig       `mapstructure:"costs"`
}

type GlobalConfig struct {
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"` // json or console
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	WorkDir         string        `mapstructure:"work_dir"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// WorkerPoolSize bounds parallel object transfers. 0 means the host
	// core count.
	WorkerPoolSize int `mapstructure:"worker_pool_size"`
}

type QueueConfig struct {
	URL               string `mapstructure:"url"`
	MaxMessages       int    `mapstructure:"max_messages"`
	VisibilitySeconds int    `mapstructure:"visibility_seconds"`
}

type SourceConfig struct {
	StagingBucket   string `mapstructure:"staging_bucket"`
	MonitoredPrefix string `mapstructure:"monitored_prefix"`
	RoutingTable    string `mapstructure:"routing_table"`
	MaxBatchSize    int    `mapstructure:"max_batch_size"`

	// DeleteAfterArchive removes each source staging object once it has
	// been archived.
	DeleteAfterArchive bool `mapstructure:"delete_after_archive"`
}

type TargetConfig struct {
	// Region the pipeline instance serves. Entries without a target
	// here are skipped.
	Region string `mapstructure:"region"`

	StagingBucket string `mapstructure:"staging_bucket"`

	// DeleteStagingArchive removes the staging archive object after all
	// entries are delivered.
	DeleteStagingArchive bool `mapstructure:"delete_staging_archive"`
}

type SettingsConfig struct {
	Table    string        `mapstructure:"table"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// StrictUpdates surfaces exhausted version-conflict retries as
	// errors instead of dropped warnings.
	StrictUpdates bool `mapstructure:"strict_updates"`
}

type CompressionConfig struct {
	DefaultLevel int `mapstructure:"default_level"`

	// CPUFactor pins the normalization factor, skipping the startup
	// probe. 0 runs the probe.
	CPUFactor float64 `mapstructure:"cpu_factor"`
}

type CostsConfig struct {
	TransferCostPerByte  float64 `mapstructure:"transfer_cost_per_byte"`
	ComputeCostPerMinute float64 `mapstructure:"compute_cost_per_minute"`
}
