package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration error: %s", e.Errors[0])
	}
	return fmt.Sprintf("configuration errors:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Validate checks a fully resolved configuration. The command calls it
// again after overlaying flag values, which Load never sees.
func Validate(cfg *Config) error {
	if errs := validate(cfg); len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// validate performs shape validation on the resolved configuration.
// Path-depth and home-containment rules carry their own sentinels and are
// enforced by the pipeline, not here.
func validate(cfg *Config) []string {
	var errs []string

	if cfg.User == "" {
		errs = append(errs, "user must not be empty")
	}
	if cfg.Group == "" {
		errs = append(errs, "group must not be empty")
	}
	if cfg.Directory == "" {
		errs = append(errs, "directory must not be empty")
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port))
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log level: invalid value %q (must be debug, info, warn, or error)", cfg.LogLevel))
	}

	if cfg.Target == "" {
		errs = append(errs, "target must not be empty")
	}

	if cfg.SSH.StrictHostKeyChecking && cfg.SSH.KnownHostsFile == "" {
		errs = append(errs, "ssh strict host key checking requires a known_hosts file")
	}

	return errs
}
