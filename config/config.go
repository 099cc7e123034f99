// Package config provides environment-variable configuration loading for
// the NetRaven job execution core, following the same prefix-scoped
// EnvConfig pattern used across the rest of the codebase.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfig retrieves typed values from environment variables, optionally
// scoped under a common prefix.
type EnvConfig struct {
	prefix string
}

// NewEnvConfig creates an environment configuration loader.
func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{prefix: prefix}
}

func (ec *EnvConfig) buildKey(key string) string {
	if ec.prefix != "" {
		return ec.prefix + "_" + key
	}
	return key
}

// GetString retrieves a string value with a default.
func (ec *EnvConfig) GetString(key, defaultValue string) string {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		return v
	}
	return defaultValue
}

// GetInt retrieves an integer value with a default.
func (ec *EnvConfig) GetInt(key string, defaultValue int) int {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

// GetBool retrieves a boolean value with a default.
func (ec *EnvConfig) GetBool(key string, defaultValue bool) bool {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

// GetDurationSeconds retrieves a duration value expressed in seconds with a default.
func (ec *EnvConfig) GetDurationSeconds(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return defaultValue
}

// GetStringSlice retrieves a comma-separated string slice with a default.
func (ec *EnvConfig) GetStringSlice(key string, defaultValue []string) []string {
	v := os.Getenv(ec.buildKey(key))
	if v == "" {
		return defaultValue
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Config holds the recognized environment keys from spec §6.
type Config struct {
	DatabaseURL             string
	QueueURL                string
	EncryptionSalt          string
	LogDir                  string
	WorkerConcurrency       int
	DeviceFanout            int
	RetryMax                int
	RetryBaseDelay          time.Duration
	JobMaxDuration          time.Duration
	LogRetention            time.Duration
	SessionLogRetention     time.Duration
	RedactPatternsPath      string
	ReachabilityDialTimeout time.Duration
	SessionOpenTimeout      time.Duration
	CommandTimeout          time.Duration
	AttemptTimeout          time.Duration
}

// FromEnv loads the Config from environment variables, applying the
// defaults documented in spec §4.4 and §6.
func FromEnv() *Config {
	env := NewEnvConfig("")
	return &Config{
		DatabaseURL:             env.GetString("DATABASE_URL", "postgres://localhost:5432/netraven?sslmode=disable"),
		QueueURL:                env.GetString("QUEUE_URL", "redis://localhost:6379/0"),
		EncryptionSalt:          env.GetString("ENCRYPTION_SALT", ""),
		LogDir:                  env.GetString("LOG_DIR", "/var/log/netraven"),
		WorkerConcurrency:       env.GetInt("WORKER_CONCURRENCY", 4),
		DeviceFanout:            env.GetInt("DEVICE_FANOUT", 10),
		RetryMax:                env.GetInt("RETRY_MAX", 3),
		RetryBaseDelay:          env.GetDurationSeconds("RETRY_BASE_DELAY_SECS", 5*time.Second),
		JobMaxDuration:          env.GetDurationSeconds("JOB_MAX_DURATION_SECS", 30*time.Minute),
		LogRetention:            24 * time.Hour * time.Duration(env.GetInt("LOG_RETENTION_DAYS", 30)),
		SessionLogRetention:     24 * time.Hour * time.Duration(env.GetInt("SESSION_LOG_RETENTION_DAYS", 14)),
		RedactPatternsPath:      env.GetString("REDACT_PATTERNS", ""),
		ReachabilityDialTimeout: env.GetDurationSeconds("REACHABILITY_TIMEOUT_SECS", 5*time.Second),
		SessionOpenTimeout:      env.GetDurationSeconds("SESSION_OPEN_TIMEOUT_SECS", 10*time.Second),
		CommandTimeout:          env.GetDurationSeconds("COMMAND_TIMEOUT_SECS", 20*time.Second),
		AttemptTimeout:          env.GetDurationSeconds("ATTEMPT_TIMEOUT_SECS", 60*time.Second),
	}
}

// Validator accumulates configuration validation errors.
type Validator struct {
	errors []string
}

// NewValidator creates a configuration validator.
func NewValidator() *Validator {
	return &Validator{}
}

// RequireString records an error if value is empty.
func (v *Validator) RequireString(field, value string) {
	if value == "" {
		v.errors = append(v.errors, field+" is required")
	}
}

// RequirePositiveInt records an error if value is not positive.
func (v *Validator) RequirePositiveInt(field string, value int) {
	if value <= 0 {
		v.errors = append(v.errors, field+" must be positive")
	}
}

// IsValid reports whether no errors were recorded.
func (v *Validator) IsValid() bool {
	return len(v.errors) == 0
}

// ErrorString joins all recorded errors.
func (v *Validator) ErrorString() string {
	return strings.Join(v.errors, "; ")
}

// Validate checks the mandatory fields of Config.
func (c *Config) Validate() error {
	v := NewValidator()
	v.RequireString("DatabaseURL", c.DatabaseURL)
	v.RequireString("QueueURL", c.QueueURL)
	v.RequirePositiveInt("WorkerConcurrency", c.WorkerConcurrency)
	v.RequirePositiveInt("DeviceFanout", c.DeviceFanout)
	if !v.IsValid() {
		return &configError{msg: v.ErrorString()}
	}
	return nil
}

type configError struct{ msg string }

func (e *configError) Error() string { return "invalid configuration: " + e.msg }
