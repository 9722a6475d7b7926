package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Loader layers defaults under environment variables, the same two-stage
// precedence the lineage's config loader uses — minus the YAML config-file
// stage and the service-name env prefix, neither of which spec.md's flat,
// unprefixed environment table (§6) calls for.
type Loader struct {
	k *koanf.Koanf
}

// NewLoader creates a loader ready to resolve the daemon's configuration.
func NewLoader() *Loader {
	return &Loader{k: koanf.New(".")}
}

// Load resolves defaults, then environment overrides, then validates.
func (l *Loader) Load() (*Config, error) {
	if err := l.loadDefaults(); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := l.k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *Loader) loadDefaults() error {
	defaults := map[string]any{
		"hf_token":                 "",
		"max_concurrent_models":    3,
		"gpu_type":                 "",
		"start_port":               8000,
		"tensor_parallel_size":     0, // 0 means "derive from device count"
		"use_sudo_docker":          false,
		"vllm_host":                "localhost",
		"blackbox_root":            "",
		"config_dir":               "configs",
		"watchdog_interval":        5 * time.Second,
		"aggregator_sample_period": 500 * time.Millisecond,

		"log_level":       "info",
		"log_format":       "json",
		"log_output":       "stdout",
		"log_max_size":     100,
		"log_max_backups":  3,
		"log_max_age":      7,
		"log_compress":     true,

		"metrics_enabled":   true,
		"metrics_port":      9090,
		"metrics_namespace": "blackbox",

		"tracing_enabled":      false,
		"tracing_endpoint":     "localhost:4317",
		"tracing_service_name": "blackboxd",
		"tracing_sample_rate":  0.1,

		"cache_driver":      "memory",
		"cache_default_ttl": 60 * time.Second,
		"cache_redis_addr":  "localhost:6379",
		"cache_redis_db":    0,

		"catalog_base_url": "https://huggingface.co",
		"catalog_timeout":  30 * time.Second,

		"audit_enabled":   true,
		"audit_backend":   "stdout",
		"audit_file_path": "",
	}
	return l.k.Load(confmap.Provider(defaults, "."), nil)
}

// loadEnv maps recognized environment variables directly onto their koanf
// key (e.g. HF_TOKEN -> hf_token, MAX_CONCURRENT_MODELS -> max_concurrent_models).
// Unlike the lineage's LOGISTICS_-prefixed loader, every key here is flat and
// unprefixed, matching spec.md §6's environment table.
func (l *Loader) loadEnv() error {
	recognized := map[string]string{
		"HF_TOKEN":                "hf_token",
		"MAX_CONCURRENT_MODELS":   "max_concurrent_models",
		"GPU_TYPE":                "gpu_type",
		"START_PORT":              "start_port",
		"TENSOR_PARALLEL_SIZE":    "tensor_parallel_size",
		"USE_SUDO_DOCKER":         "use_sudo_docker",
		"VLLM_HOST":               "vllm_host",
		"BLACKBOX_ROOT":           "blackbox_root",
		"CONFIG_DIR":              "config_dir",
		"WATCHDOG_INTERVAL":       "watchdog_interval",
		"AGGREGATOR_SAMPLE_PERIOD": "aggregator_sample_period",
		"LOG_LEVEL":               "log_level",
		"LOG_FORMAT":              "log_format",
		"LOG_OUTPUT":              "log_output",
		"METRICS_ENABLED":         "metrics_enabled",
		"METRICS_PORT":            "metrics_port",
		"TRACING_ENABLED":         "tracing_enabled",
		"TRACING_ENDPOINT":        "tracing_endpoint",
		"CACHE_DRIVER":            "cache_driver",
		"CACHE_REDIS_ADDR":        "cache_redis_addr",
		"CATALOG_BASE_URL":        "catalog_base_url",
		"AUDIT_ENABLED":           "audit_enabled",
		"AUDIT_BACKEND":           "audit_backend",
		"AUDIT_FILE_PATH":         "audit_file_path",
	}

	return l.k.Load(env.ProviderWithValue("", ".", func(s, v string) (string, any) {
		key, ok := recognized[s]
		if !ok {
			// Unrecognized env vars are ignored rather than polluting the
			// tree: returning "" causes koanf to drop the key.
			return "", nil
		}
		if key == "use_sudo_docker" {
			return key, boolFromEnvStyle(v)
		}
		return key, v
	}), nil)
}

// Load resolves configuration with default settings.
func Load() (*Config, error) {
	return NewLoader().Load()
}

// boolFromEnvStyle parses the truthy strings spec.md §6 allows for
// USE_SUDO_DOCKER ("true"/"1"/"yes"). koanf's own struct decode only accepts
// strconv.ParseBool's stricter set (rejects "yes"), so loadEnv calls this
// directly on the raw env value before the key ever reaches the decoder.
func boolFromEnvStyle(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}
