// Package config resolves the daemon's environment-driven settings.
package config

import (
	"fmt"
	"strings"
	"time"

	"blackbox/internal/audit"
)

// Config is the daemon's full resolved configuration.
type Config struct {
	Daemon  DaemonConfig  `koanf:",squash"`
	Log     LogConfig     `koanf:",squash"`
	Metrics MetricsConfig `koanf:",squash"`
	Tracing TracingConfig `koanf:",squash"`
	Cache   CacheConfig   `koanf:",squash"`
	Catalog CatalogConfig `koanf:",squash"`
	Audit   audit.Config  `koanf:",squash"`
}

// DaemonConfig covers the environment keys spec.md §6 recognizes plus the
// internal tuning knobs (watchdog/aggregator intervals) this daemon needs.
type DaemonConfig struct {
	Port                 int           // CLI positional arg, resolved in cmd/blackboxd, default 6767
	HFToken               string        `koanf:"hf_token"`
	MaxConcurrentModels    int           `koanf:"max_concurrent_models"`
	GPUType                string        `koanf:"gpu_type"`
	StartPort              int           `koanf:"start_port"`
	TensorParallelSize     int           `koanf:"tensor_parallel_size"`
	UseSudoDocker          bool          `koanf:"use_sudo_docker"`
	VLLMHost               string        `koanf:"vllm_host"`
	BlackboxRoot           string        `koanf:"blackbox_root"`
	ConfigDir              string        `koanf:"config_dir"`
	WatchdogInterval       time.Duration `koanf:"watchdog_interval"`
	AggregatorSamplePeriod time.Duration `koanf:"aggregator_sample_period"`
}

// LogConfig controls internal/logger.
type LogConfig struct {
	Level      string `koanf:"log_level"`
	Format     string `koanf:"log_format"`
	Output     string `koanf:"log_output"`
	FilePath   string `koanf:"log_file_path"`
	MaxSize    int    `koanf:"log_max_size"`
	MaxBackups int    `koanf:"log_max_backups"`
	MaxAge     int    `koanf:"log_max_age"`
	Compress   bool   `koanf:"log_compress"`
}

// MetricsConfig controls the ambient Prometheus endpoint, bound to its own
// listener so it never perturbs the primary HTTP surface's route table.
type MetricsConfig struct {
	Enabled   bool   `koanf:"metrics_enabled"`
	Port      int    `koanf:"metrics_port"`
	Namespace string `koanf:"metrics_namespace"`
}

// TracingConfig controls the ambient OTel tracer, disabled by default.
type TracingConfig struct {
	Enabled     bool    `koanf:"tracing_enabled"`
	Endpoint    string  `koanf:"tracing_endpoint"`
	ServiceName string  `koanf:"tracing_service_name"`
	SampleRate  float64 `koanf:"tracing_sample_rate"`
}

// CacheConfig controls the catalog-validation cache backend.
type CacheConfig struct {
	Driver     string        `koanf:"cache_driver"` // memory, redis
	DefaultTTL time.Duration `koanf:"cache_default_ttl"`
	RedisAddr  string        `koanf:"cache_redis_addr"`
	RedisDB    int           `koanf:"cache_redis_db"`
}

// CatalogConfig controls the model catalog HTTP client.
type CatalogConfig struct {
	BaseURL string        `koanf:"catalog_base_url"`
	Timeout time.Duration `koanf:"catalog_timeout"`
}

// Validate checks the resolved configuration for out-of-range values.
func (c *Config) Validate() error {
	var errs []string

	if c.Daemon.MaxConcurrentModels <= 0 {
		errs = append(errs, "max_concurrent_models must be positive")
	}
	if c.Daemon.StartPort <= 0 || c.Daemon.StartPort > 65535 {
		errs = append(errs, fmt.Sprintf("start_port must be between 1 and 65535, got %d", c.Daemon.StartPort))
	}
	if c.Daemon.TensorParallelSize < 0 {
		errs = append(errs, "tensor_parallel_size must not be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log_level must be one of debug/info/warn/error, got %q", c.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
