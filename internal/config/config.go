// Package config provides configuration loading and validation for checkerd.
// Configuration comes from YAML files; Load does not read environment
// variables, and the env struct tags are not consulted by this package.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a checkerd replica.
type Config struct {
	Replica       ReplicaConfig       `yaml:"replica"`
	Metadata      MetadataConfig      `yaml:"metadata"`
	Checker       CheckerConfig       `yaml:"checker"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ReplicaConfig identifies this replica and its admin surface.
type ReplicaConfig struct {
	// OwnerEndpoint identifies this replica in JobRecycle lease records and
	// the admin HTTP status page. Empty means generate one from the process's
	// listen address at startup (see cmd/checkerd).
	OwnerEndpoint string `yaml:"ownerEndpoint" env:"CHECKERD_OWNER_ENDPOINT"`
	AdminAddr     string `yaml:"adminAddr" env:"CHECKERD_ADMIN_ADDR"`
}

// MetadataConfig configures the Oxia-backed metadata store.
type MetadataConfig struct {
	OxiaEndpoint string `yaml:"oxiaEndpoint" env:"CHECKERD_OXIA_ENDPOINT"`
	Namespace    string `yaml:"namespace" env:"CHECKERD_OXIA_NAMESPACE"`
}

// CheckerConfig configures the scanner, coordinator, lease manager, and
// lifecycle inspector.
type CheckerConfig struct {
	// RecycleWhitelist, if non-empty, restricts checking to these instance IDs.
	RecycleWhitelist []string `yaml:"recycleWhitelist" env:"CHECKERD_RECYCLE_WHITELIST"`
	// RecycleBlacklist excludes these instance IDs from checking.
	RecycleBlacklist []string `yaml:"recycleBlacklist" env:"CHECKERD_RECYCLE_BLACKLIST"`

	// ScanInstancesIntervalSeconds is how often the scanner lists instances.
	ScanInstancesIntervalSeconds int64 `yaml:"scanInstancesIntervalSeconds" env:"CHECKERD_SCAN_INTERVAL_SECONDS"`
	// RecycleJobLeaseExpiredMs is the lease duration granted by Prepare/Renew.
	RecycleJobLeaseExpiredMs int64 `yaml:"recycleJobLeaseExpiredMs" env:"CHECKERD_LEASE_EXPIRED_MS"`
	// RecycleConcurrency is the number of worker goroutines in the coordinator.
	RecycleConcurrency int `yaml:"recycleConcurrency" env:"CHECKERD_RECYCLE_CONCURRENCY"`
	// CheckObjectIntervalSeconds bounds how long a Prepare'd lease covers one pass.
	CheckObjectIntervalSeconds int64 `yaml:"checkObjectIntervalSeconds" env:"CHECKERD_CHECK_INTERVAL_SECONDS"`
	// ReservedBufferDays is subtracted from a vault's lifecycle window before
	// the LifecycleInspector raises an alarm, giving operators headroom.
	ReservedBufferDays int64 `yaml:"reservedBufferDays" env:"CHECKERD_RESERVED_BUFFER_DAYS"`
	// EnableInvertedCheck turns on the object-store-to-KV reconciliation pass
	// in addition to the always-on KV-to-object-store pass.
	EnableInvertedCheck bool `yaml:"enableInvertedCheck" env:"CHECKERD_ENABLE_INVERTED_CHECK"`
}

// ObservabilityConfig configures logging and the metrics HTTP server.
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metricsAddr" env:"CHECKERD_METRICS_ADDR"`
	LogLevel    string `yaml:"logLevel" env:"CHECKERD_LOG_LEVEL"`
	LogFormat   string `yaml:"logFormat" env:"CHECKERD_LOG_FORMAT"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Replica: ReplicaConfig{
			AdminAddr: ":8432",
		},
		Metadata: MetadataConfig{
			OxiaEndpoint: "localhost:6648",
			Namespace:    "checkerd",
		},
		Checker: CheckerConfig{
			ScanInstancesIntervalSeconds: 60,
			RecycleJobLeaseExpiredMs:     600_000,
			RecycleConcurrency:           8,
			CheckObjectIntervalSeconds:   600,
			ReservedBufferDays:           1,
			EnableInvertedCheck:          true,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load reads and parses a YAML config file, applying defaults for anything
// left unspecified and validating the result.
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", filePath, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", filePath, err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return cfg, nil
}

// applyDefaults restores the Default() value of fields the file set
// explicitly to zero or empty; sections the file omits already keep the
// values from Default(), which Load unmarshals into.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Replica.AdminAddr == "" {
		cfg.Replica.AdminAddr = def.Replica.AdminAddr
	}
	if cfg.Metadata.OxiaEndpoint == "" {
		cfg.Metadata.OxiaEndpoint = def.Metadata.OxiaEndpoint
	}
	if cfg.Metadata.Namespace == "" {
		cfg.Metadata.Namespace = def.Metadata.Namespace
	}
	if cfg.Checker.ScanInstancesIntervalSeconds == 0 {
		cfg.Checker.ScanInstancesIntervalSeconds = def.Checker.ScanInstancesIntervalSeconds
	}
	if cfg.Checker.RecycleJobLeaseExpiredMs == 0 {
		cfg.Checker.RecycleJobLeaseExpiredMs = def.Checker.RecycleJobLeaseExpiredMs
	}
	if cfg.Checker.RecycleConcurrency == 0 {
		cfg.Checker.RecycleConcurrency = def.Checker.RecycleConcurrency
	}
	if cfg.Checker.CheckObjectIntervalSeconds == 0 {
		cfg.Checker.CheckObjectIntervalSeconds = def.Checker.CheckObjectIntervalSeconds
	}
	if cfg.Observability.MetricsAddr == "" {
		cfg.Observability.MetricsAddr = def.Observability.MetricsAddr
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = def.Observability.LogLevel
	}
	if cfg.Observability.LogFormat == "" {
		cfg.Observability.LogFormat = def.Observability.LogFormat
	}
}

// Validate checks invariants that Default/applyDefaults cannot safely fill in.
func (c *Config) Validate() error {
	if c.Metadata.OxiaEndpoint == "" {
		return fmt.Errorf("metadata.oxiaEndpoint is required")
	}
	if c.Checker.RecycleConcurrency < 1 {
		return fmt.Errorf("checker.recycleConcurrency must be at least 1")
	}
	if c.Checker.RecycleJobLeaseExpiredMs < 1000 {
		return fmt.Errorf("checker.recycleJobLeaseExpiredMs must be at least 1000")
	}
	if c.Checker.ReservedBufferDays < 0 {
		return fmt.Errorf("checker.reservedBufferDays must not be negative")
	}
	if len(c.Checker.RecycleWhitelist) > 0 && len(c.Checker.RecycleBlacklist) > 0 {
		for _, id := range c.Checker.RecycleWhitelist {
			for _, blocked := range c.Checker.RecycleBlacklist {
				if id == blocked {
					return fmt.Errorf("instance %q appears in both recycleWhitelist and recycleBlacklist", id)
				}
			}
		}
	}
	return nil
}
