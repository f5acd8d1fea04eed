// Package config provides unified configuration loading helpers for Loom's
// services: environment variable and secret loading with fallbacks, CSV/byte
// size/duration parsing, and the top-level ServicesConfig loaded at process
// startup.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/loom-platform/loom/infrastructure/secret"
)

// EnvOrSecret retrieves a configuration value using the NAME/NAME_FILE
// convention (infrastructure/secret.LoadEnv), falling back to defaultValue
// if neither is set. This is the preferred way to load any config value
// that might be a credential.
func EnvOrSecret(envKey string, defaultValue string) string {
	value, ok, err := secret.LoadEnv(envKey)
	if err != nil || !ok {
		return defaultValue
	}
	return value.Expose()
}

// RequireEnvOrSecret retrieves a required configuration value, returning an
// error if neither NAME nor NAME_FILE is set.
func RequireEnvOrSecret(envKey string) (secret.Secret[string], error) {
	return secret.RequireEnv(envKey)
}

// GetEnv retrieves an environment variable with a default, without secret
// file indirection. Use EnvOrSecret instead for anything credential-shaped.
func GetEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(envLookup(key)); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvBool retrieves a boolean environment variable with optional
// default. Accepts "true", "1", "yes", "y" (case-insensitive) as true.
func GetEnvBool(key string, defaultValue bool) bool {
	return ParseBoolOrDefault(envLookup(key), defaultValue)
}

// GetEnvInt retrieves an integer environment variable with optional
// default. Returns the default if the value is invalid.
func GetEnvInt(key string, defaultValue int) int {
	return ParseIntOrDefault(envLookup(key), defaultValue)
}

// ParseEnvInt parses an integer from the environment variable with the
// given key.
func ParseEnvInt(key string) (int, bool) {
	raw := strings.TrimSpace(envLookup(key))
	if raw == "" {
		return 0, false
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return value, true
}

// ParseEnvDuration parses a duration from the environment variable with the
// given key.
func ParseEnvDuration(key string) (time.Duration, bool) {
	raw := strings.TrimSpace(envLookup(key))
	if raw == "" {
		return 0, false
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

// SplitAndTrimCSV splits a CSV string and trims each part. Empty values are
// filtered out.
func SplitAndTrimCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// ParseByteSize parses a size string like "1GB", "512MB" into bytes.
// Supported suffixes, case-insensitive: B, K/KB/KiB, M/MB/MiB, G/GB/GiB,
// all as powers of 1024. TB is not accepted.
func ParseByteSize(raw string) (int64, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return 0, fmt.Errorf("empty size")
	}

	type suffix struct {
		value      string
		multiplier int64
	}

	suffixes := []suffix{
		{"gib", 1024 * 1024 * 1024},
		{"gb", 1024 * 1024 * 1024},
		{"g", 1024 * 1024 * 1024},
		{"mib", 1024 * 1024},
		{"mb", 1024 * 1024},
		{"m", 1024 * 1024},
		{"kib", 1024},
		{"kb", 1024},
		{"k", 1024},
		{"b", 1},
	}

	const maxInt64 = int64(^uint64(0) >> 1)

	for _, entry := range suffixes {
		if !strings.HasSuffix(value, entry.value) {
			continue
		}
		num := strings.TrimSpace(strings.TrimSuffix(value, entry.value))
		if num == "" {
			return 0, fmt.Errorf("missing size value")
		}
		parsed, err := strconv.ParseInt(num, 10, 64)
		if err != nil {
			return 0, err
		}
		if parsed <= 0 {
			return 0, fmt.Errorf("size must be positive")
		}
		if parsed > maxInt64/entry.multiplier {
			return 0, fmt.Errorf("size too large")
		}
		return parsed * entry.multiplier, nil
	}

	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, err
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}
	return parsed, nil
}

// ParseDurationOrDefault parses a duration string or returns the default.
func ParseDurationOrDefault(raw string, defaultDuration time.Duration) time.Duration {
	if raw == "" {
		return defaultDuration
	}
	if parsed, err := time.ParseDuration(raw); err == nil {
		return parsed
	}
	return defaultDuration
}

// ParseBoolOrDefault parses a boolean string or returns the default. Accepts
// "true", "1", "yes", "y" (case-insensitive) as true.
func ParseBoolOrDefault(raw string, defaultValue bool) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultValue
	}
	lower := strings.ToLower(raw)
	return lower == "true" || lower == "1" || lower == "yes" || lower == "y"
}

// ParseIntOrDefault parses an integer string or returns the default.
func ParseIntOrDefault(raw string, defaultValue int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultValue
	}
	if parsed, err := strconv.Atoi(raw); err == nil {
		return parsed
	}
	return defaultValue
}

// ParseInt64OrDefault parses an int64 string or returns the default.
func ParseInt64OrDefault(raw string, defaultValue int64) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultValue
	}
	if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return parsed
	}
	return defaultValue
}

// DefaultTimeouts returns standard timeout values for different operations.
type DefaultTimeouts struct {
	HTTP     time.Duration
	Database time.Duration
	Service  time.Duration
}

// GetDefaultTimeouts returns default timeout values.
func GetDefaultTimeouts() DefaultTimeouts {
	return DefaultTimeouts{
		HTTP:     30 * time.Second,
		Database: 10 * time.Second,
		Service:  15 * time.Second,
	}
}

// LoadDotEnv loads a .env file, if present, into the process environment
// before ServicesConfig is decoded. Missing files are not an error: Loom
// services run fine from real environment variables alone (e.g. in
// containers).
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !isNotExist(err) {
		return fmt.Errorf("load dotenv %s: %w", path, err)
	}
	return nil
}

// LoadServicesConfig decodes ServicesConfig from the process environment
// using envdecode's struct-tag convention (`env:"LOOM_..."`).
func LoadServicesConfig() (*ServicesConfig, error) {
	var cfg ServicesConfig
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("decode services config: %w", err)
	}
	return &cfg, nil
}
