package config

import (
	"os"
	"strings"
)

// Data store backends.
const (
	DataStoreMemory   = "memory"
	DataStorePostgres = "postgres"
)

// Config holds runtime configuration for the server.
type Config struct {
	Port string
	// DataStore selects the backend: memory or postgres.
	DataStore string
	// DevMode allows starting without JWT_SECRET; tokens are then signed
	// with a per-process random secret.
	DevMode  bool
	Database DatabaseConfig
	Auth     AuthConfig
	// TrustProxy honors X-Forwarded-For; set only behind a proxy that
	// appends the peer address.
	TrustProxy      bool
	Feed            FeedConfig
	Retry           RetryConfig
	RateLimit       RateLimitConfig
	FixturePath     string
	DisplayTimezone string
	Metrics         MetricsConfig
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	URL             string
	MaxConns        int32
	MaxConnLifetime Duration
	Migrate         bool
}

// AuthConfig controls token signing and the admin endpoints.
type AuthConfig struct {
	JWTSecret  string
	Issuer     string
	TokenTTL   Duration
	AdminToken string
}

// FeedConfig tunes change feeds and mutation reconciliation.
type FeedConfig struct {
	ReconcileWait Duration
	Buffer        int
	// ResumeInterval is how often a dropped collection feed is retried.
	ResumeInterval Duration
}

// RetryConfig tunes retries of data store reads.
type RetryConfig struct {
	Attempts int
	Backoff  Duration
}

// RateLimitConfig sizes the per-caller write buckets. A zero rate disables
// limiting.
type RateLimitConfig struct {
	PerSecond float64
	Burst     int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads configuration through getenv, which returns "" for unset
// variables.
func LoadFrom(getenv func(string) string) Config {
	env := lookup(getenv)
	return Config{
		Port:            env.str(envPort, defaultPort),
		DataStore:       strings.ToLower(env.str(envDataStore, defaultDataStore)),
		DevMode:         env.flag(envDevMode, false),
		Database:        loadDatabase(env),
		Auth:            loadAuth(env),
		TrustProxy:      env.flag(envTrustProxy, false),
		Feed:            loadFeed(env),
		Retry:           loadRetry(env),
		RateLimit:       loadRateLimit(env),
		FixturePath:     env.str(envFixturePath, ""),
		DisplayTimezone: env.str(envDisplayTZ, defaultDisplayTZ),
		Metrics:         loadMetrics(env),
	}
}

func loadDatabase(env lookup) DatabaseConfig {
	return DatabaseConfig{
		URL:             env.str(envDatabaseURL, ""),
		MaxConns:        int32(env.positiveInt(envDatabaseMaxConns, defaultDatabaseMaxConns)),
		MaxConnLifetime: env.duration(envDatabaseLifetime, defaultDatabaseLifetime),
		Migrate:         env.flag(envDatabaseMigrate, true),
	}
}

func loadAuth(env lookup) AuthConfig {
	return AuthConfig{
		JWTSecret:  env.str(envJWTSecret, ""),
		Issuer:     env.str(envJWTIssuer, defaultJWTIssuer),
		TokenTTL:   env.duration(envTokenTTL, defaultTokenTTL),
		AdminToken: env.str(envAdminToken, ""),
	}
}

func loadFeed(env lookup) FeedConfig {
	return FeedConfig{
		ReconcileWait:  env.duration(envReconcileWait, defaultReconcileWait),
		Buffer:         env.positiveInt(envFeedBuffer, defaultFeedBuffer),
		ResumeInterval: env.duration(envResumeInterval, defaultResumeInterval),
	}
}

func loadRetry(env lookup) RetryConfig {
	return RetryConfig{
		Attempts: env.positiveInt(envRetryAttempts, defaultRetryAttempts),
		Backoff:  env.duration(envRetryBackoff, defaultRetryBackoff),
	}
}

func loadRateLimit(env lookup) RateLimitConfig {
	return RateLimitConfig{
		PerSecond: env.rate(envRateLimitRate, defaultRateLimitRate),
		Burst:     env.positiveInt(envRateLimitBurst, defaultRateLimitBurst),
	}
}
