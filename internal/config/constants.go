package config

import "time"

const (
	envPort             = "PORT"
	envDataStore        = "DATA_STORE"
	envDevMode          = "DEV_MODE"
	envDatabaseURL      = "DATABASE_URL"
	envDatabaseMaxConns = "DATABASE_MAX_CONNS"
	envDatabaseLifetime = "DATABASE_MAX_CONN_LIFETIME"
	envDatabaseMigrate  = "DATABASE_MIGRATE"
	envJWTSecret        = "JWT_SECRET"
	envJWTIssuer        = "JWT_ISSUER"
	envTokenTTL         = "TOKEN_TTL"
	envAdminToken       = "ADMIN_TOKEN"
	envTrustProxy       = "TRUST_PROXY"
	envReconcileWait    = "RECONCILE_WAIT"
	envFeedBuffer       = "FEED_BUFFER"
	envResumeInterval   = "FEED_RESUME_INTERVAL"
	envRetryAttempts    = "RETRY_ATTEMPTS"
	envRetryBackoff     = "RETRY_BACKOFF"
	envRateLimitRate    = "RATE_LIMIT_PER_SECOND"
	envRateLimitBurst   = "RATE_LIMIT_BURST"
	envFixturePath      = "FIXTURE_PATH"
	envDisplayTZ        = "DISPLAY_TIMEZONE"
	envMetricsPort      = "METRICS_PORT"
	envMetricsOn        = "METRICS_ENABLED"
	envOtelEndpoint     = "OTEL_EXPORTER_OTLP_ENDPOINT"
	envOtelService      = "OTEL_SERVICE_NAME"
	envOtelInsecure     = "OTEL_EXPORTER_OTLP_INSECURE"

	defaultPort             = "4000"
	defaultDataStore        = DataStoreMemory
	defaultDatabaseMaxConns = 10
	defaultDatabaseLifetime = 30 * Duration(time.Minute)
	defaultJWTIssuer        = "livescore-service"
	defaultTokenTTL         = 12 * Duration(time.Hour)
	// Matches the mutation coordinator's own fallback.
	defaultReconcileWait  = 2 * Duration(time.Second)
	defaultFeedBuffer     = 64
	defaultResumeInterval = 5 * Duration(time.Second)
	defaultRetryAttempts  = 3
	defaultRetryBackoff   = 200 * Duration(time.Millisecond)
	// Two writes a second per caller with room for a burst of quick goals.
	defaultRateLimitRate  = 2.0
	defaultRateLimitBurst = 10
	defaultDisplayTZ      = "UTC"
	defaultMetricsPort    = "9090"
	defaultServiceName    = "livescore-service"
)

// MinJWTSecretLen is the shortest JWT_SECRET accepted, in bytes.
const MinJWTSecretLen = 32
