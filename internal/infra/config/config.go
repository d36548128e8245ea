package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// CoordinatorConfig holds activation coordinator settings.
type CoordinatorConfig struct {
	// MaxActive is the concurrency ceiling for simultaneously active
	// agents. Default 10.
	MaxActive int `yaml:"max_active"`
	// SessionTTL is the idle lifetime of an activation session.
	// Default 30m.
	SessionTTL time.Duration `yaml:"session_ttl"`
	// SweepInterval is how often expired sessions are collected.
	// Default 60s.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// ActivationsPerMin rate-limits Activate calls. 0 disables the guard.
	ActivationsPerMin int `yaml:"activations_per_min"`
	// ActivationBurst is the token-bucket burst when rate limiting is on.
	ActivationBurst int `yaml:"activation_burst"`
	// Autostart lists agent identifiers activated at daemon startup.
	Autostart []string `yaml:"autostart"`
}

// RecoveryConfig tunes the default recovery gateway.
type RecoveryConfig struct {
	// MaxFailures is the consecutive activation-procedure failures per
	// agent before its circuit opens and verdicts turn terminal. Default 5.
	MaxFailures uint32 `yaml:"max_failures"`
	// FallbackAfter is the consecutive failure count after which the
	// gateway offers a degraded fallback instead of a retry. Default 3.
	FallbackAfter uint32 `yaml:"fallback_after"`
	// BreakerTimeout is how long an open circuit stays open. Default 30s.
	BreakerTimeout time.Duration `yaml:"breaker_timeout"`
	// BreakerInterval is the closed-state cyclic period for clearing
	// failure counts. Default 60s.
	BreakerInterval time.Duration `yaml:"breaker_interval"`
}

// CatalogConfig locates declaratively registered agent descriptors.
type CatalogConfig struct {
	// Dir is scanned for *.yaml descriptor files at startup. Empty
	// disables file loading.
	Dir string `yaml:"dir"`
}

// LoaderConfig locates per-agent resource bundles.
type LoaderConfig struct {
	// Root contains one directory per agent identifier.
	Root string `yaml:"root"`
}

// SnapshotConfig controls the best-effort active-set mirror.
type SnapshotConfig struct {
	Path string `yaml:"path"`
}

// AuditConfig controls the SQLite activation audit log.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
	Output string `yaml:"output"` // stdout|stderr|discard|<file path>
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout|noop
}

// Config is the top-level application configuration.
type Config struct {
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Recovery    RecoveryConfig    `yaml:"recovery"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Loader      LoaderConfig      `yaml:"loader"`
	Snapshot    SnapshotConfig    `yaml:"snapshot"`
	Audit       AuditConfig       `yaml:"audit"`
	Logger      LoggerConfig      `yaml:"logger"`
	Tracer      TracerConfig      `yaml:"tracer"`
}

// Defaults returns a Config populated with default values.
func Defaults() *Config {
	return &Config{
		Coordinator: CoordinatorConfig{
			MaxActive:     10,
			SessionTTL:    30 * time.Minute,
			SweepInterval: 60 * time.Second,
		},
		Recovery: RecoveryConfig{
			MaxFailures:     5,
			FallbackAfter:   3,
			BreakerTimeout:  30 * time.Second,
			BreakerInterval: 60 * time.Second,
		},
		Snapshot: SnapshotConfig{
			Path: "crewd-active.json",
		},
		Audit: AuditConfig{
			Path: "crewd-audit.db",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file and applies env var overrides. A missing
// file is not an error: defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps CREWD_* env vars onto config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CREWD_COORDINATOR_MAX_ACTIVE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Coordinator.MaxActive = n
		}
	}
	if v := os.Getenv("CREWD_COORDINATOR_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Coordinator.SessionTTL = d
		}
	}
	if v := os.Getenv("CREWD_COORDINATOR_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Coordinator.SweepInterval = d
		}
	}
	if v := os.Getenv("CREWD_COORDINATOR_ACTIVATIONS_PER_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Coordinator.ActivationsPerMin = n
		}
	}
	if v := os.Getenv("CREWD_CATALOG_DIR"); v != "" {
		cfg.Catalog.Dir = v
	}
	if v := os.Getenv("CREWD_LOADER_ROOT"); v != "" {
		cfg.Loader.Root = v
	}
	if v := os.Getenv("CREWD_SNAPSHOT_PATH"); v != "" {
		cfg.Snapshot.Path = v
	}
	if v := os.Getenv("CREWD_AUDIT_ENABLED"); v == "true" {
		cfg.Audit.Enabled = true
	}
	if v := os.Getenv("CREWD_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}
	if v := os.Getenv("CREWD_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("CREWD_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("CREWD_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("CREWD_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("CREWD_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}
