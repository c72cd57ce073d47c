package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/tariff/pkg/billing"
	"github.com/platinummonkey/tariff/pkg/observability"
	"github.com/platinummonkey/tariff/pkg/ratelimit"
	"github.com/platinummonkey/tariff/pkg/storage"
)

// Gateways
const (
	GatewayMemory = "memory"
	GatewayStripe = "stripe"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Observability configuration
	Observability ObservabilityConfig

	// Billing configuration
	Billing BillingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// MaxBatchQuotes caps the number of quotes in one batch request
	MaxBatchQuotes int

	// Per-client rate limits. Shared through Redis when a Redis URL is set.
	RateLimitEnabled bool
	RateLimit        ratelimit.Config
	CommitRateLimit  ratelimit.Config
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// BillingConfig holds commit settings
type BillingConfig struct {
	Gateway          string // "memory" or "stripe"
	StripeAPIKey     string
	StripeURL        string // overrides the Stripe API endpoint, for stripe-mock
	CommitTimeout    time.Duration
	LateOutcomeLimit time.Duration
	// DescriptorSecret keys commit descriptors. Empty means a random key per
	// process, so previews cannot be committed across restarts or replicas.
	DescriptorSecret string
}

// OTel returns the OpenTelemetry settings in the form InitOTel takes
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Observability: loadObservabilityConfig(),
		Billing:       loadBillingConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TARIFF_HOST", "0.0.0.0"),
		Port:            getEnv("TARIFF_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TARIFF_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TARIFF_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("TARIFF_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TARIFF_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("TARIFF_HEALTH_PORT", "9090"),
		MaxBatchQuotes:  getEnvInt("TARIFF_MAX_BATCH_QUOTES", 100),

		RateLimitEnabled: getEnvBool("TARIFF_RATE_LIMIT_ENABLED", false),
		RateLimit: ratelimit.Config{
			Requests: getEnvInt("TARIFF_RATE_LIMIT_REQUESTS", 600),
			Window:   getEnvDuration("TARIFF_RATE_LIMIT_WINDOW", time.Minute),
			Burst:    getEnvInt("TARIFF_RATE_LIMIT_BURST", 60),
		},
		CommitRateLimit: ratelimit.Config{
			Requests: getEnvInt("TARIFF_COMMIT_RATE_LIMIT_REQUESTS", 60),
			Window:   getEnvDuration("TARIFF_RATE_LIMIT_WINDOW", time.Minute),
			Burst:    getEnvInt("TARIFF_COMMIT_RATE_LIMIT_BURST", 0),
		},
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	cfg.PriceSource = getEnv("TARIFF_PRICE_SOURCE", cfg.PriceSource)
	cfg.Ledger = getEnv("TARIFF_LEDGER", cfg.Ledger)

	// PostgreSQL config
	cfg.PostgresURL = getEnv("TARIFF_POSTGRES_URL", cfg.PostgresURL)
	cfg.PostgresReplicaURLs = getEnv("TARIFF_POSTGRES_REPLICA_URLS", cfg.PostgresReplicaURLs)
	if maxConns := getEnvInt("TARIFF_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("TARIFF_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("TARIFF_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}
	cfg.SQLitePath = getEnv("TARIFF_SQLITE_PATH", cfg.SQLitePath)

	// Catalog config
	cfg.CatalogPath = getEnv("TARIFF_CATALOG_PATH", cfg.CatalogPath)
	cfg.CatalogWatch = getEnvBool("TARIFF_CATALOG_WATCH", cfg.CatalogWatch)
	cfg.CatalogRefreshSchedule = getEnv("TARIFF_CATALOG_REFRESH_SCHEDULE", cfg.CatalogRefreshSchedule)

	// S3 config
	cfg.S3Endpoint = getEnv("TARIFF_S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3Region = getEnv("TARIFF_S3_REGION", cfg.S3Region)
	cfg.S3AccessKey = getEnv("TARIFF_S3_ACCESS_KEY", cfg.S3AccessKey)
	cfg.S3SecretKey = getEnv("TARIFF_S3_SECRET_KEY", cfg.S3SecretKey)
	cfg.S3UsePathStyle = getEnvBool("TARIFF_S3_USE_PATH_STYLE", cfg.S3UsePathStyle)

	// Redis config
	cfg.RedisURL = getEnv("TARIFF_REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("TARIFF_REDIS_PASSWORD", cfg.RedisPassword)
	if redisDB := getEnvInt("TARIFF_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("TARIFF_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("TARIFF_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}
	cfg.RedisKeyPrefix = getEnv("TARIFF_REDIS_KEY_PREFIX", cfg.RedisKeyPrefix)

	// Ledger retention
	if ttl := getEnvDuration("TARIFF_LEDGER_TTL", 0); ttl > 0 {
		cfg.LedgerTTL = ttl
	}
	if retention := getEnvDuration("TARIFF_LEDGER_RETENTION", 0); retention > 0 {
		cfg.LedgerRetention = retention
	}
	cfg.PruneSchedule = getEnv("TARIFF_PRUNE_SCHEDULE", cfg.PruneSchedule)

	// Cache config
	cfg.CacheEnabled = getEnvBool("TARIFF_CACHE_ENABLED", cfg.CacheEnabled)
	if l1CacheSize := getEnvInt("TARIFF_L1_CACHE_SIZE", 0); l1CacheSize > 0 {
		cfg.L1CacheSize = l1CacheSize
	}
	if ttl := getEnvDuration("TARIFF_PRICE_CACHE_TTL", 0); ttl > 0 {
		cfg.CacheTTL["price"] = ttl
	}
	if ttl := getEnvDuration("TARIFF_PRICE_L2_CACHE_TTL", 0); ttl > 0 {
		cfg.CacheTTL["price_l2"] = ttl
	}

	return cfg
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("TARIFF_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("TARIFF_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("TARIFF_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("TARIFF_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("TARIFF_OTEL_SERVICE_NAME", "tariff"),
		OTelServiceVersion: getEnv("TARIFF_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("TARIFF_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("TARIFF_OTEL_SAMPLE_RATIO", 0),
	}
}

// loadBillingConfig loads billing configuration from environment
func loadBillingConfig() BillingConfig {
	return BillingConfig{
		Gateway:          strings.ToLower(getEnv("TARIFF_GATEWAY", GatewayMemory)),
		StripeAPIKey:     getEnv("TARIFF_STRIPE_API_KEY", ""),
		StripeURL:        getEnv("TARIFF_STRIPE_URL", ""),
		CommitTimeout:    getEnvDuration("TARIFF_COMMIT_TIMEOUT", billing.DefaultCommitTimeout),
		LateOutcomeLimit: getEnvDuration("TARIFF_LATE_OUTCOME_LIMIT", billing.DefaultLateOutcomeLimit),
		DescriptorSecret: getEnv("TARIFF_DESCRIPTOR_SECRET", ""),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.MaxBatchQuotes <= 0 {
		return fmt.Errorf("max batch quotes must be positive")
	}
	if c.Server.RateLimitEnabled {
		if err := c.Server.RateLimit.Validate(); err != nil {
			return fmt.Errorf("invalid rate limit: %w", err)
		}
		if err := c.Server.CommitRateLimit.Validate(); err != nil {
			return fmt.Errorf("invalid commit rate limit: %w", err)
		}
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	switch c.Billing.Gateway {
	case GatewayMemory:
	case GatewayStripe:
		if c.Billing.StripeAPIKey == "" {
			return fmt.Errorf("stripe API key is required for the stripe gateway")
		}
	default:
		return fmt.Errorf("invalid gateway: %s (must be memory or stripe)", c.Billing.Gateway)
	}
	if c.Billing.CommitTimeout <= 0 {
		return fmt.Errorf("commit timeout must be positive")
	}
	if c.Billing.LateOutcomeLimit < c.Billing.CommitTimeout {
		return fmt.Errorf("late outcome limit must not be shorter than the commit timeout")
	}
	if c.Billing.DescriptorSecret != "" && len(c.Billing.DescriptorSecret) < billing.MinDescriptorSecretLen {
		return fmt.Errorf("descriptor secret must be at least %d bytes", billing.MinDescriptorSecretLen)
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}
	if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
		return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
	}

	return nil
}

func (c *Config) validateStorage() error {
	s := c.Storage

	switch s.PriceSource {
	case storage.PriceSourcePostgres:
		if s.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for the postgres price source")
		}
	case storage.PriceSourceCatalog:
		if s.CatalogPath == "" {
			return fmt.Errorf("catalog path is required for the catalog price source")
		}
		if s.IsS3Catalog() {
			if _, _, err := s.S3Location(); err != nil {
				return err
			}
			if err := validateSchedule(s.CatalogRefreshSchedule); err != nil {
				return fmt.Errorf("invalid catalog refresh schedule: %w", err)
			}
		}
	default:
		return fmt.Errorf("invalid price source: %s (must be postgres or catalog)", s.PriceSource)
	}

	switch s.Ledger {
	case storage.LedgerMemory:
	case storage.LedgerPostgres:
		if s.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for the postgres ledger")
		}
	case storage.LedgerRedis:
		if s.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis ledger")
		}
	case storage.LedgerSQLite:
		if s.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for the sqlite ledger")
		}
	default:
		return fmt.Errorf("invalid ledger: %s (must be memory, postgres, redis, or sqlite)", s.Ledger)
	}

	if s.Ledger == storage.LedgerPostgres || s.Ledger == storage.LedgerSQLite {
		if err := validateSchedule(s.PruneSchedule); err != nil {
			return fmt.Errorf("invalid prune schedule: %w", err)
		}
	}

	return nil
}

// validateSchedule checks a standard five-field cron expression
func validateSchedule(spec string) error {
	_, err := cron.ParseStandard(spec)
	return err
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
