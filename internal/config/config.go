// Package config provides configuration management for the rategate service.
// It handles loading configuration from environment variables with sensible
// defaults and validates the configuration so the service starts safely.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//
// Rate Limiting:
//   - RATE_LIMIT_ENABLED: Enable rate limiting (default: true)
//   - RATE_LIMIT_DEFAULT: Default limit expression for unbound routes
//     (default: "100/minute"; multiple clauses separated by ";")
//   - RATE_LIMIT_APPLICATION: Application-wide limit expression shared by
//     all routes, evaluated ahead of per-route limits (default: unset)
//   - RATE_LIMIT_KEY_PREFIX: Prefix prepended to every counter key
//   - RATE_LIMIT_HEADERS_ENABLED: Write X-RateLimit response headers (default: true)
//   - RATE_LIMIT_HEADER_LIMIT / _REMAINING / _RESET / _RETRY_AFTER:
//     Override the quota header names
//   - RATE_LIMIT_FALLBACK_ENABLED: Fall back to the in-memory store when the
//     primary backend is unreachable (default: false)
//
// Counting Backend:
//   - STORE_BACKEND: "memory", "redis", "sqlite" or "postgres" (default: memory)
//   - MEMORY_SWEEP_INTERVAL: Janitor interval for the memory store (default: 1m)
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//   - DATABASE_DSN: DSN for the sqlite/postgres backends
//     (default: ./rategate.db for sqlite)
//
// Authentication:
//   - JWT_SECRET: HS256 secret enabling the per-user key resolver; when unset,
//     callers are identified by client address
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all configuration values for the rategate service. All
// fields correspond to environment variables; load with Load() and check
// with Validate() before use.
type Config struct {
	// Application settings
	Port     string
	LogLevel string

	// Rate limiting configuration
	RateLimitEnabled        bool
	RateLimitDefault        string
	RateLimitApplication    string
	RateLimitKeyPrefix      string
	RateLimitHeadersEnabled bool
	RateLimitFallback       bool

	// Quota header name overrides, empty means the conventional name
	HeaderLimit      string
	HeaderRemaining  string
	HeaderReset      string
	HeaderRetryAfter string

	// Counting backend selection
	StoreBackend        string
	MemorySweepInterval string

	// Redis backend
	RedisAddress  string
	RedisPassword string
	RedisDB       string
	RedisPoolSize string

	// SQL backends
	DatabaseDSN string

	// Per-user key resolution
	JWTSecret string
}

// Load creates a new Config instance with values loaded from environment
// variables, falling back to defaults for anything unset. Call Validate()
// on the result before use.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		RateLimitEnabled:        getBoolEnv("RATE_LIMIT_ENABLED", true),
		RateLimitDefault:        getEnv("RATE_LIMIT_DEFAULT", "100/minute"),
		RateLimitApplication:    getEnv("RATE_LIMIT_APPLICATION", ""),
		RateLimitKeyPrefix:      getEnv("RATE_LIMIT_KEY_PREFIX", ""),
		RateLimitHeadersEnabled: getBoolEnv("RATE_LIMIT_HEADERS_ENABLED", true),
		RateLimitFallback:       getBoolEnv("RATE_LIMIT_FALLBACK_ENABLED", false),

		HeaderLimit:      getEnv("RATE_LIMIT_HEADER_LIMIT", ""),
		HeaderRemaining:  getEnv("RATE_LIMIT_HEADER_REMAINING", ""),
		HeaderReset:      getEnv("RATE_LIMIT_HEADER_RESET", ""),
		HeaderRetryAfter: getEnv("RATE_LIMIT_HEADER_RETRY_AFTER", ""),

		StoreBackend:        getEnv("STORE_BACKEND", "memory"),
		MemorySweepInterval: getEnv("MEMORY_SWEEP_INTERVAL", "1m"),

		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),

		DatabaseDSN: getEnv("DATABASE_DSN", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),
	}
}

// getEnv retrieves an environment variable value or returns a default
// value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv retrieves a boolean environment variable value or returns a
// default value when unset or unparsable.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate checks required fields, value formats and cross-field
// dependencies. The service should refuse to start when this fails.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	switch c.StoreBackend {
	case "memory", "redis", "sqlite", "postgres":
		// Valid backends
	default:
		return fmt.Errorf("STORE_BACKEND must be 'memory', 'redis', 'sqlite' or 'postgres'")
	}

	if c.StoreBackend == "redis" {
		if c.RedisAddress == "" {
			return fmt.Errorf("REDIS_ADDRESS is required when using the redis backend")
		}
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	}

	if c.StoreBackend == "postgres" && c.DatabaseDSN == "" {
		return fmt.Errorf("DATABASE_DSN is required when using the postgres backend")
	}

	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long for security")
	}

	return nil
}

// RedisDBNumber returns REDIS_DB as an int. Validate first.
func (c *Config) RedisDBNumber() int {
	db, _ := strconv.Atoi(c.RedisDB)
	return db
}

// RedisPoolSizeNumber returns REDIS_POOL_SIZE as an int. Validate first.
func (c *Config) RedisPoolSizeNumber() int {
	size, _ := strconv.Atoi(c.RedisPoolSize)
	return size
}
