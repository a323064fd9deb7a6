package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	// Build set of service names for reference validation.
	serviceNames := make(map[string]bool)
	for i, s := range cfg.Services {
		if s.Name == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("services[%d].name", i),
				Message: "is required",
			})
			continue
		}
		if s.Name == LocalService {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("services[%d].name", i),
				Message: fmt.Sprintf("%q is reserved for in-process tools", LocalService),
			})
		}
		if serviceNames[s.Name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("services[%d].name", i),
				Message: fmt.Sprintf("duplicate service name %q", s.Name),
			})
		}
		serviceNames[s.Name] = true

		for j, ep := range s.Endpoints {
			if !strings.HasPrefix(ep, "ws://") && !strings.HasPrefix(ep, "wss://") {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("services[%d].endpoints[%d]", i, j),
					Message: fmt.Sprintf("%q must be a ws:// or wss:// URL", ep),
				})
			}
		}
	}

	toolNames := make(map[string]bool)
	for i, t := range cfg.Tools {
		if t.Name == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("tools[%d].name", i),
				Message: "is required",
			})
			continue
		}
		if toolNames[t.Name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("tools[%d].name", i),
				Message: fmt.Sprintf("duplicate tool name %q", t.Name),
			})
		}
		toolNames[t.Name] = true

		if t.Service != "" && t.Service != LocalService && !serviceNames[t.Service] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("tools[%d].service", i),
				Message: fmt.Sprintf("references undeclared service %q", t.Service),
			})
		}
	}

	for name, tools := range cfg.Profiles {
		for _, tool := range tools {
			if !toolNames[tool] {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("profiles.%s", name),
					Message: fmt.Sprintf("references undeclared tool %q", tool),
				})
			}
		}
	}

	for field, value := range map[string]string{
		"workers.poll_interval":      cfg.Workers.PollInterval,
		"retry.base_delay":           cfg.Retry.BaseDelay,
		"retry.max_delay":            cfg.Retry.MaxDelay,
		"pool.request_timeout":       cfg.Pool.RequestTimeout,
		"pool.health_check_interval": cfg.Pool.HealthCheckInterval,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("invalid duration %q", value),
			})
		}
	}

	if cfg.Retry.MaxRetries < 0 {
		errs = append(errs, ValidationError{Field: "retry.max_retries", Message: "must not be negative"})
	}
	if cfg.Retry.ExponentialBase < 1 {
		errs = append(errs, ValidationError{Field: "retry.exponential_base", Message: "must be at least 1"})
	}
	if cfg.Workers.MaxConcurrent < 1 {
		errs = append(errs, ValidationError{Field: "workers.max_concurrent", Message: "must be at least 1"})
	}
	if cfg.Workers.PerRunLimit < 1 {
		errs = append(errs, ValidationError{Field: "workers.per_run_limit", Message: "must be at least 1"})
	}

	return errs
}
