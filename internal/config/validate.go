package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation error: %s: %s", e.Field, e.Message)
}

// ValidationResult contains validation errors.
type ValidationResult struct {
	Errors []*ValidationError
}

// Valid returns true if there are no validation errors.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// Error returns a formatted error string.
func (r *ValidationResult) Error() string {
	if r.Valid() {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{
		Errors: make([]*ValidationError, 0),
	}

	result.validateExecution(c)
	result.validateCache(c)
	result.validateCircuitBreaker(c)
	result.validateChain(c)
	result.validateTelemetry(c)
	result.validateSecurity(c)
	result.validateLifecycle(c)

	return result
}

func (r *ValidationResult) validateExecution(c *Config) {
	if c.Execution.MaxConcurrentRuns < 0 {
		r.add("execution.max_concurrent_runs", "must be >= 0 (0 = use default)")
	}
	if c.Execution.ExecutionTimeout <= 0 {
		r.add("execution.execution_timeout", "must be > 0")
	}
}

func (r *ValidationResult) validateCache(c *Config) {
	if c.Cache.MaxSizeBytes < 0 {
		r.add("cache.max_size_bytes", "must be >= 0 (0 = no limit)")
	}
	if c.Cache.DefaultTTL <= 0 {
		r.add("cache.default_ttl", "must be > 0")
	}
	if c.Cache.CleanupInterval <= 0 {
		r.add("cache.cleanup_interval", "must be > 0")
	}
	if c.Cache.InlineThresholdBytes < 0 {
		r.add("cache.inline_threshold_bytes", "must be >= 0")
	}
}

func (r *ValidationResult) validateCircuitBreaker(c *Config) {
	if c.CircuitBreaker.FailureThreshold < 1 {
		r.add("circuit_breaker.failure_threshold", "must be >= 1")
	}
	if c.CircuitBreaker.OpenTimeout <= 0 {
		r.add("circuit_breaker.open_timeout", "must be > 0")
	}
}

func (r *ValidationResult) validateChain(c *Config) {
	if c.Chain.DefaultMaxRetries < 0 {
		r.add("chain.default_max_retries", "must be >= 0")
	}
	if c.Chain.MaxParallelSubsteps < 0 {
		r.add("chain.max_parallel_substeps", "must be >= 0")
	}
}

func (r *ValidationResult) validateTelemetry(c *Config) {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	if !validLevels[c.Telemetry.LogLevel] {
		r.add("telemetry.log_level", "must be one of: debug, info, warn, error, fatal")
	}
	if c.Telemetry.LogDir != "" {
		if !filepath.IsAbs(c.Telemetry.LogDir) {
			r.add("telemetry.log_dir", "must be an absolute path")
		}
	}
}

func (r *ValidationResult) validateSecurity(c *Config) {
	if c.Security.AuditLogPath != "" {
		if !filepath.IsAbs(c.Security.AuditLogPath) {
			r.add("security.audit_log_path", "must be an absolute path")
		}
	}
	if c.Security.PermissionProfileDir != "" {
		if !filepath.IsAbs(c.Security.PermissionProfileDir) {
			r.add("security.permission_profile_dir", "must be an absolute path")
		}
	}
}

func (r *ValidationResult) validateLifecycle(c *Config) {
	if c.Lifecycle.InitTimeout <= 0 {
		r.add("lifecycle.init_timeout", "must be > 0")
	}
	if c.Lifecycle.ShutdownTimeout <= 0 {
		r.add("lifecycle.shutdown_timeout", "must be > 0")
	}
	if c.Lifecycle.MaintenanceInterval <= 0 {
		r.add("lifecycle.maintenance_interval", "must be > 0")
	}
}

func (r *ValidationResult) add(field, message string) {
	r.Errors = append(r.Errors, &ValidationError{
		Field:   field,
		Message: message,
	})
}

// MustValidate validates the config and panics if invalid.
func (c *Config) MustValidate() {
	result := c.Validate()
	if !result.Valid() {
		panic(result.Error())
	}
}

// ValidateWithDefaults validates and applies defaults for missing values.
func (c *Config) ValidateWithDefaults() error {
	defaults := Default()

	if c.Execution.MaxConcurrentRuns == 0 {
		c.Execution.MaxConcurrentRuns = defaults.Execution.MaxConcurrentRuns
	}
	if c.Execution.ExecutionTimeout == 0 {
		c.Execution.ExecutionTimeout = defaults.Execution.ExecutionTimeout
	}
	if c.Cache.MaxSizeBytes == 0 {
		c.Cache.MaxSizeBytes = defaults.Cache.MaxSizeBytes
	}
	if c.Cache.DefaultTTL == 0 {
		c.Cache.DefaultTTL = defaults.Cache.DefaultTTL
	}
	if c.Cache.CleanupInterval == 0 {
		c.Cache.CleanupInterval = defaults.Cache.CleanupInterval
	}
	if c.Cache.InlineThresholdBytes == 0 {
		c.Cache.InlineThresholdBytes = defaults.Cache.InlineThresholdBytes
	}
	if c.CircuitBreaker.FailureThreshold == 0 {
		c.CircuitBreaker.FailureThreshold = defaults.CircuitBreaker.FailureThreshold
	}
	if c.CircuitBreaker.OpenTimeout == 0 {
		c.CircuitBreaker.OpenTimeout = defaults.CircuitBreaker.OpenTimeout
	}
	if c.Chain.DefaultMaxRetries == 0 {
		c.Chain.DefaultMaxRetries = defaults.Chain.DefaultMaxRetries
	}
	if c.Chain.MaxParallelSubsteps == 0 {
		c.Chain.MaxParallelSubsteps = defaults.Chain.MaxParallelSubsteps
	}
	if c.Telemetry.LogLevel == "" {
		c.Telemetry.LogLevel = defaults.Telemetry.LogLevel
	}
	if c.Lifecycle.InitTimeout == 0 {
		c.Lifecycle.InitTimeout = defaults.Lifecycle.InitTimeout
	}
	if c.Lifecycle.ShutdownTimeout == 0 {
		c.Lifecycle.ShutdownTimeout = defaults.Lifecycle.ShutdownTimeout
	}
	if c.Lifecycle.MaintenanceInterval == 0 {
		c.Lifecycle.MaintenanceInterval = defaults.Lifecycle.MaintenanceInterval
	}

	result := c.Validate()
	if !result.Valid() {
		return fmt.Errorf("configuration validation failed: %s", result.Error())
	}

	return nil
}
