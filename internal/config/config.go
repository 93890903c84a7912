// Package config holds the viper-backed configuration for all subsystems.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Analyzer  AnalyzerConfig  `mapstructure:"analyzer" yaml:"analyzer"`
	Generator GeneratorConfig `mapstructure:"generator" yaml:"generator"`
	Validator ValidatorConfig `mapstructure:"validator" yaml:"validator"`
	Deploy    DeployConfig    `mapstructure:"deploy" yaml:"deploy"`
	Monitor   MonitorConfig   `mapstructure:"monitor" yaml:"monitor"`
	Cycle     CycleConfig     `mapstructure:"cycle" yaml:"cycle"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`

	Integrations IntegrationsConfig `mapstructure:"integrations" yaml:"integrations"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// TelemetryConfig tunes the collector.
type TelemetryConfig struct {
	PullInterval   time.Duration `mapstructure:"pull_interval" yaml:"pull_interval"`
	AnalysisWindow time.Duration `mapstructure:"analysis_window" yaml:"analysis_window"`
	DedupWindow    time.Duration `mapstructure:"dedup_window" yaml:"dedup_window"`
	QueryRateLimit float64       `mapstructure:"query_rate_limit" yaml:"query_rate_limit"`
}

// AnalyzerConfig holds the detector thresholds. Defaults match the detectors'
// documented qualification rules; they are exposed so operators can tighten
// them per environment.
type AnalyzerConfig struct {
	LatencyDegradationPct float64 `mapstructure:"latency_degradation_pct" yaml:"latency_degradation_pct"`
	ErrorRateIncreasePts  float64 `mapstructure:"error_rate_increase_pts" yaml:"error_rate_increase_pts"`
	ResourceUtilPct       float64 `mapstructure:"resource_util_pct" yaml:"resource_util_pct"`
	ThroughputDropPct     float64 `mapstructure:"throughput_drop_pct" yaml:"throughput_drop_pct"`
	ErrorClusterMinPerHr  int     `mapstructure:"error_cluster_min_per_hr" yaml:"error_cluster_min_per_hr"`
	CacheHitRatioMax      float64 `mapstructure:"cache_hit_ratio_max" yaml:"cache_hit_ratio_max"`
	CacheMinRequestsPerHr float64 `mapstructure:"cache_min_requests_per_hr" yaml:"cache_min_requests_per_hr"`
}

// GeneratorConfig configures the generation service client and its breaker.
type GeneratorConfig struct {
	Model            string        `mapstructure:"model" yaml:"model"`
	APIKey           string        `mapstructure:"api_key" yaml:"-"`
	Endpoint         string        `mapstructure:"endpoint" yaml:"endpoint"`
	AttemptTimeout   time.Duration `mapstructure:"attempt_timeout" yaml:"attempt_timeout"`
	MaxRetries       int           `mapstructure:"max_retries" yaml:"max_retries"`
	BackoffBase      time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	Temperature      float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens        int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	BreakerThreshold int           `mapstructure:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout" yaml:"breaker_timeout"`
}

// ValidatorConfig bounds the static checks.
type ValidatorConfig struct {
	MaxComplexity  int      `mapstructure:"max_complexity" yaml:"max_complexity"`
	MinCoverage    float64  `mapstructure:"min_coverage" yaml:"min_coverage"`
	ProjectImports []string `mapstructure:"project_imports" yaml:"project_imports"`
}

// DeployConfig configures the deployment controller.
type DeployConfig struct {
	Root            string        `mapstructure:"root" yaml:"root"`
	SnapshotDir     string        `mapstructure:"snapshot_dir" yaml:"snapshot_dir"`
	ApprovalTimeout time.Duration `mapstructure:"approval_timeout" yaml:"approval_timeout"`
}

// MonitorConfig configures the post-deployment watch window.
type MonitorConfig struct {
	Window            time.Duration `mapstructure:"window" yaml:"window"`
	SampleInterval    time.Duration `mapstructure:"sample_interval" yaml:"sample_interval"`
	RollbackThreshold float64       `mapstructure:"rollback_threshold" yaml:"rollback_threshold"`
}

// CycleConfig configures the orchestrator.
type CycleConfig struct {
	IntervalHours             int           `mapstructure:"interval_hours" yaml:"interval_hours"`
	StartHour                 int           `mapstructure:"start_hour" yaml:"start_hour"`
	MaxConcurrentImprovements int           `mapstructure:"max_concurrent_improvements" yaml:"max_concurrent_improvements"`
	EmergencyWindow           time.Duration `mapstructure:"emergency_window" yaml:"emergency_window"`
	EmergencyReaction         time.Duration `mapstructure:"emergency_reaction" yaml:"emergency_reaction"`
	FailureAlarmThreshold     int           `mapstructure:"failure_alarm_threshold" yaml:"failure_alarm_threshold"`
}

// StoreConfig selects and configures persistence.
type StoreConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`
	InMemory bool   `mapstructure:"in_memory" yaml:"in_memory"`
}

// IntegrationsConfig points at the external collaborator services.
type IntegrationsConfig struct {
	TelemetryURL    string        `mapstructure:"telemetry_url" yaml:"telemetry_url"`
	ReloadURL       string        `mapstructure:"reload_url" yaml:"reload_url"`
	ApprovalURL     string        `mapstructure:"approval_url" yaml:"approval_url"`
	AlertWebhookURL string        `mapstructure:"alert_webhook_url" yaml:"alert_webhook_url"`
	EventPoll       time.Duration `mapstructure:"event_poll" yaml:"event_poll"`
	ApprovalPoll    time.Duration `mapstructure:"approval_poll" yaml:"approval_poll"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// SetDefaults initializes default values for every recognized option.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "loopsmith")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Telemetry --
	v.SetDefault("telemetry.pull_interval", "60s")
	v.SetDefault("telemetry.analysis_window", "24h")
	v.SetDefault("telemetry.dedup_window", "300s")
	v.SetDefault("telemetry.query_rate_limit", 2.0)

	// -- Analyzer --
	v.SetDefault("analyzer.latency_degradation_pct", 20.0)
	v.SetDefault("analyzer.error_rate_increase_pts", 5.0)
	v.SetDefault("analyzer.resource_util_pct", 80.0)
	v.SetDefault("analyzer.throughput_drop_pct", 30.0)
	v.SetDefault("analyzer.error_cluster_min_per_hr", 10)
	v.SetDefault("analyzer.cache_hit_ratio_max", 0.5)
	v.SetDefault("analyzer.cache_min_requests_per_hr", 100.0)

	// -- Generator --
	v.SetDefault("generator.model", "gemini-2.5-pro")
	v.SetDefault("generator.attempt_timeout", "60s")
	v.SetDefault("generator.max_retries", 3)
	v.SetDefault("generator.backoff_base", "2s")
	v.SetDefault("generator.temperature", 0.1)
	v.SetDefault("generator.max_tokens", 16384)
	v.SetDefault("generator.breaker_threshold", 3)
	v.SetDefault("generator.breaker_timeout", "60s")

	// -- Validator --
	v.SetDefault("validator.max_complexity", 10)
	v.SetDefault("validator.min_coverage", 0.8)

	// -- Deploy --
	v.SetDefault("deploy.root", ".")
	v.SetDefault("deploy.snapshot_dir", ".loopsmith/snapshots")
	v.SetDefault("deploy.approval_timeout", "10m")

	// -- Monitor --
	v.SetDefault("monitor.window", "3600s")
	v.SetDefault("monitor.sample_interval", "60s")
	v.SetDefault("monitor.rollback_threshold", 0.10)

	// -- Cycle --
	v.SetDefault("cycle.interval_hours", 24)
	v.SetDefault("cycle.start_hour", 3)
	v.SetDefault("cycle.max_concurrent_improvements", 3)
	v.SetDefault("cycle.emergency_window", "1h")
	v.SetDefault("cycle.emergency_reaction", "30s")
	v.SetDefault("cycle.failure_alarm_threshold", 3)

	// -- Store --
	v.SetDefault("store.in_memory", true)

	// -- Integrations --
	v.SetDefault("integrations.event_poll", "10s")
	v.SetDefault("integrations.approval_poll", "15s")
	v.SetDefault("integrations.request_timeout", "30s")
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with the defaults above.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a validated configuration from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data.
	_ = v.BindEnv("generator.api_key", "LOOPSMITH_GENERATOR_API_KEY")
	_ = v.BindEnv("store.url", "LOOPSMITH_STORE_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.Cycle.MaxConcurrentImprovements <= 0 {
		return fmt.Errorf("cycle.max_concurrent_improvements must be a positive integer")
	}
	if c.Cycle.IntervalHours <= 0 {
		return fmt.Errorf("cycle.interval_hours must be a positive integer")
	}
	if c.Monitor.RollbackThreshold <= 0 {
		return fmt.Errorf("monitor.rollback_threshold must be positive")
	}
	if c.Monitor.SampleInterval <= 0 || c.Monitor.Window < c.Monitor.SampleInterval {
		return fmt.Errorf("monitor.window must cover at least one sample_interval")
	}
	if c.Generator.MaxRetries < 0 {
		return fmt.Errorf("generator.max_retries must not be negative")
	}
	if c.Generator.BreakerThreshold <= 0 {
		return fmt.Errorf("generator.breaker_threshold must be a positive integer")
	}
	if c.Validator.MinCoverage < 0 || c.Validator.MinCoverage > 1 {
		return fmt.Errorf("validator.min_coverage must be between 0.0 and 1.0")
	}
	if !c.Store.InMemory && c.Store.URL == "" {
		return fmt.Errorf("store.url is required when store.in_memory is false")
	}
	return nil
}
