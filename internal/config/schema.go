// Package config provides typed, validated configuration for the tool
// execution runtime.
// Configuration resolution order (highest priority last):
// 1. Defaults
// 2. Config file (~/.toolrun/config.json or TOOLRUN_CONFIG_PATH)
// 3. Environment variables (TOOLRUN_*)
package config

import (
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	// Execution controls the Caching Executor and the tools it wraps.
	Execution ExecutionConfig `json:"execution"`

	// Cache controls the Result Store and Execution Cache.
	Cache CacheConfig `json:"cache"`

	// CircuitBreaker controls the breaker the Caching Executor wraps
	// around its inner executor.
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`

	// Chain holds Chain Engine settings (Parallel fan-out bound, default
	// retry count).
	Chain ChainConfig `json:"chain"`

	// Telemetry controls logging, metrics, and tracing.
	Telemetry TelemetryConfig `json:"telemetry"`

	// Security controls audit logging and permission enforcement.
	Security SecurityConfig `json:"security"`

	// Lifecycle controls Lifecycle Manager timeouts.
	Lifecycle LifecycleConfig `json:"lifecycle"`
}

// ExecutionConfig controls execution behavior.
type ExecutionConfig struct {
	// MaxConcurrentRuns limits concurrent tool executions. ValidateWithDefaults
	// replaces 0 with the default of 10, so 0 does not mean unlimited.
	MaxConcurrentRuns int `json:"max_concurrent_runs" env:"TOOLRUN_MAX_CONCURRENT_RUNS" default:"10"`

	// ExecutionTimeout is a default per-execution timeout. It is loaded and
	// validated, but no executor applies it.
	ExecutionTimeout time.Duration `json:"execution_timeout" env:"TOOLRUN_EXECUTION_TIMEOUT" default:"5m"`
}

// CacheConfig controls the Result Store and Execution Cache.
type CacheConfig struct {
	// MaxSizeBytes bounds the Result Store's total entry size.
	MaxSizeBytes int64 `json:"max_size_bytes" env:"TOOLRUN_CACHE_MAX_SIZE_BYTES" default:"104857600"` // 100MB

	// DefaultTTL is applied when a cache Set does not specify its own.
	DefaultTTL time.Duration `json:"default_ttl" env:"TOOLRUN_CACHE_DEFAULT_TTL" default:"5m"`

	// CleanupInterval is how often the store sweeps expired entries.
	CleanupInterval time.Duration `json:"cleanup_interval" env:"TOOLRUN_CACHE_CLEANUP_INTERVAL" default:"1m"`

	// InlineThresholdBytes is loaded and validated but not read: the
	// fingerprint package always uses its own InlineThresholdBytes constant.
	InlineThresholdBytes int `json:"inline_threshold_bytes" env:"TOOLRUN_CACHE_INLINE_THRESHOLD_BYTES" default:"200"`
}

// CircuitBreakerConfig controls the breaker wrapping the inner executor.
type CircuitBreakerConfig struct {
	// FailureThreshold is consecutive failures before the circuit opens.
	FailureThreshold int `json:"failure_threshold" env:"TOOLRUN_CIRCUIT_BREAKER_THRESHOLD" default:"5"`

	// OpenTimeout is how long the circuit stays open before probing again.
	OpenTimeout time.Duration `json:"open_timeout" env:"TOOLRUN_CIRCUIT_BREAKER_TIMEOUT" default:"30s"`
}

// ChainConfig controls default Chain Engine behavior.
type ChainConfig struct {
	// DefaultMaxRetries is loaded and validated but not read by the Chain
	// Engine, which always uses each step's own MaxRetries.
	DefaultMaxRetries int `json:"default_max_retries" env:"TOOLRUN_CHAIN_DEFAULT_MAX_RETRIES" default:"3"`

	// MaxParallelSubsteps bounds the goroutine fan-out of a Parallel step
	// (0 = unlimited).
	MaxParallelSubsteps int `json:"max_parallel_substeps" env:"TOOLRUN_CHAIN_MAX_PARALLEL_SUBSTEPS" default:"8"`
}

// TelemetryConfig controls logging, metrics, and tracing.
type TelemetryConfig struct {
	// LogLevel is the minimum log level.
	LogLevel string `json:"log_level" env:"TOOLRUN_LOG_LEVEL" default:"info"`

	// LogDir is a log directory. It is loaded and validated, but the logger
	// writes to its io.Writer (stderr by default), not to this directory.
	LogDir string `json:"log_dir" env:"TOOLRUN_LOG_DIR" default:""`

	// MetricsEnabled is loaded but not read: cmd/toolrund always attaches
	// a metrics collector to the Chain Engine.
	MetricsEnabled bool `json:"metrics_enabled" env:"TOOLRUN_METRICS_ENABLED" default:"true"`

	// MetricsPath is loaded but not read. The same TOOLRUN_METRICS_PATH
	// variable is read directly by telemetry.DefaultCollector, which then
	// appends each raw execution record to that file as a JSON line.
	MetricsPath string `json:"metrics_path" env:"TOOLRUN_METRICS_PATH" default:""`

	// TracingEnabled is loaded but not read: the Chain Engine always
	// records spans.
	TracingEnabled bool `json:"tracing_enabled" env:"TOOLRUN_TRACING_ENABLED" default:"false"`
}

// SecurityConfig controls audit logging and permission enforcement.
type SecurityConfig struct {
	// AuditLogPath is loaded and validated but not read: cmd/toolrund
	// always writes audit entries through the structured logger (stderr).
	AuditLogPath string `json:"audit_log_path" env:"TOOLRUN_AUDIT_LOG_PATH" default:""`

	// PermissionProfileDir is a directory for per-profile JSON permission
	// files. It is loaded and validated, but nothing in cmd/toolrund reads it.
	PermissionProfileDir string `json:"permission_profile_dir" env:"TOOLRUN_PERMISSION_PROFILE_DIR" default:""`
}

// LifecycleConfig controls Lifecycle Manager timeouts.
type LifecycleConfig struct {
	// InitTimeout bounds the Initializing state.
	InitTimeout time.Duration `json:"init_timeout" env:"TOOLRUN_LIFECYCLE_INIT_TIMEOUT" default:"30s"`

	// ShutdownTimeout bounds the ShuttingDown state.
	ShutdownTimeout time.Duration `json:"shutdown_timeout" env:"TOOLRUN_LIFECYCLE_SHUTDOWN_TIMEOUT" default:"30s"`

	// MaintenanceInterval is how often periodic maintenance runs while
	// Running (security violation cleanup and registered maintenance tasks).
	// Expired cache entries are not swept here; the Result Store sweeps them
	// on its own CleanupInterval.
	MaintenanceInterval time.Duration `json:"maintenance_interval" env:"TOOLRUN_LIFECYCLE_MAINTENANCE_INTERVAL" default:"5m"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Execution: ExecutionConfig{
			MaxConcurrentRuns: 10,
			ExecutionTimeout:  5 * time.Minute,
		},
		Cache: CacheConfig{
			MaxSizeBytes:         100 * 1024 * 1024,
			DefaultTTL:           5 * time.Minute,
			CleanupInterval:      1 * time.Minute,
			InlineThresholdBytes: 200,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
		},
		Chain: ChainConfig{
			DefaultMaxRetries:   3,
			MaxParallelSubsteps: 8,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			MetricsEnabled: true,
		},
		Security: SecurityConfig{},
		Lifecycle: LifecycleConfig{
			InitTimeout:         30 * time.Second,
			ShutdownTimeout:     30 * time.Second,
			MaintenanceInterval: 5 * time.Minute,
		},
	}
}
