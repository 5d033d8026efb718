package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Task     TaskConfig     `mapstructure:"task" validate:"required"`
}

// ServerConfig contains all HTTP server related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// TaskConfig contains the task engine settings: worker sizing, polling
// cadence, and the execution/caching timeouts.
type TaskConfig struct {
	// WorkerCount is the number of concurrent polling loops per process.
	WorkerCount int `mapstructure:"worker_count" validate:"required,gt=0"`

	// DefaultTimeoutSeconds bounds executor invocations for tasks that
	// carry no timeout of their own.
	DefaultTimeoutSeconds int `mapstructure:"default_timeout_seconds" validate:"required,gt=0"`

	// IdleIntervalSeconds is the sleep after an empty poll of all tiers.
	IdleIntervalSeconds float64 `mapstructure:"idle_interval_seconds" validate:"gte=0"`

	// ErrorBackoffSeconds is the sleep after an unexpected worker-loop error.
	ErrorBackoffSeconds float64 `mapstructure:"error_backoff_seconds" validate:"gte=0"`

	// StatsCacheTTLSeconds bounds how stale cached statistics may be.
	StatsCacheTTLSeconds int `mapstructure:"stats_cache_ttl_seconds" validate:"gte=0"`

	// RecordCacheTTLSeconds bounds the task/result read-through cache.
	RecordCacheTTLSeconds int `mapstructure:"record_cache_ttl_seconds" validate:"gte=0"`
}

// DefaultTimeout returns the default execution deadline as a duration.
func (c TaskConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSeconds) * time.Second
}

// IdleInterval returns the idle poll sleep as a duration.
func (c TaskConfig) IdleInterval() time.Duration {
	return time.Duration(c.IdleIntervalSeconds * float64(time.Second))
}

// ErrorBackoff returns the worker error backoff as a duration.
func (c TaskConfig) ErrorBackoff() time.Duration {
	return time.Duration(c.ErrorBackoffSeconds * float64(time.Second))
}

// StatsCacheTTL returns the statistics cache TTL as a duration.
func (c TaskConfig) StatsCacheTTL() time.Duration {
	return time.Duration(c.StatsCacheTTLSeconds) * time.Second
}

// RecordCacheTTL returns the record cache TTL as a duration.
func (c TaskConfig) RecordCacheTTL() time.Duration {
	return time.Duration(c.RecordCacheTTLSeconds) * time.Second
}
