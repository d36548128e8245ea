package config

import "fmt"

// Validate checks a loaded Config for values the daemon cannot run with.
func Validate(cfg *Config) error {
	if cfg.Coordinator.MaxActive <= 0 {
		return fmt.Errorf("config: coordinator.max_active must be positive, got %d", cfg.Coordinator.MaxActive)
	}
	if cfg.Coordinator.SessionTTL <= 0 {
		return fmt.Errorf("config: coordinator.session_ttl must be positive, got %s", cfg.Coordinator.SessionTTL)
	}
	if cfg.Coordinator.SweepInterval <= 0 {
		return fmt.Errorf("config: coordinator.sweep_interval must be positive, got %s", cfg.Coordinator.SweepInterval)
	}
	if cfg.Coordinator.ActivationsPerMin < 0 {
		return fmt.Errorf("config: coordinator.activations_per_min must not be negative")
	}
	if cfg.Recovery.FallbackAfter > cfg.Recovery.MaxFailures {
		return fmt.Errorf("config: recovery.fallback_after (%d) must not exceed recovery.max_failures (%d)",
			cfg.Recovery.FallbackAfter, cfg.Recovery.MaxFailures)
	}
	switch cfg.Logger.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: logger.format must be text or json, got %q", cfg.Logger.Format)
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		return fmt.Errorf("config: tracer.exporter must be noop or stdout, got %q", cfg.Tracer.Exporter)
	}
	if cfg.Audit.Enabled && cfg.Audit.Path == "" {
		return fmt.Errorf("config: audit.path is required when audit is enabled")
	}
	return nil
}
