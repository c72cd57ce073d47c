package config

import (
	"strings"
	"testing"
	"time"

	"github.com/platinummonkey/tariff/pkg/billing"
	"github.com/platinummonkey/tariff/pkg/observability"
	"github.com/platinummonkey/tariff/pkg/ratelimit"
	"github.com/platinummonkey/tariff/pkg/storage"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			if got := getEnv(tt.key, tt.defaultValue); got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		want         bool
	}{
		{"true", "true", false, true},
		{"uppercase TRUE", "TRUE", false, true},
		{"one", "1", false, true},
		{"false", "false", true, false},
		{"garbage is false", "yes-please", true, false},
		{"unset uses default", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv("TEST_BOOL", tt.envValue)
			}
			if got := getEnvBool("TEST_BOOL", tt.defaultValue); got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvNumbers tests the numeric and duration helpers
func TestGetEnvNumbers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "forty-two")
	t.Setenv("TEST_FLOAT", "0.25")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_BAD_DURATION", "soon")

	if got := getEnvInt("TEST_INT", 1); got != 42 {
		t.Errorf("getEnvInt() = %v, want 42", got)
	}
	if got := getEnvInt("TEST_BAD_INT", 7); got != 7 {
		t.Errorf("getEnvInt() with invalid value = %v, want default 7", got)
	}
	if got := getEnvFloat("TEST_FLOAT", 1); got != 0.25 {
		t.Errorf("getEnvFloat() = %v, want 0.25", got)
	}
	if got := getEnvDuration("TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %v, want 90s", got)
	}
	if got := getEnvDuration("TEST_BAD_DURATION", time.Second); got != time.Second {
		t.Errorf("getEnvDuration() with invalid value = %v, want default 1s", got)
	}
}

// TestLoadServerConfig tests the loadServerConfig function
func TestLoadServerConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		got := loadServerConfig()
		want := ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
			MaxBatchQuotes:  100,
			RateLimit:       ratelimit.Config{Requests: 600, Window: time.Minute, Burst: 60},
			CommitRateLimit: ratelimit.Config{Requests: 60, Window: time.Minute},
		}
		if got != want {
			t.Errorf("loadServerConfig() = %+v, want %+v", got, want)
		}
	})

	t.Run("custom values", func(t *testing.T) {
		t.Setenv("TARIFF_HOST", "localhost")
		t.Setenv("TARIFF_PORT", "3000")
		t.Setenv("TARIFF_READ_TIMEOUT", "30s")
		t.Setenv("TARIFF_SHUTDOWN_TIMEOUT", "60s")
		t.Setenv("TARIFF_HEALTH_PORT", "9091")
		t.Setenv("TARIFF_MAX_BATCH_QUOTES", "25")
		t.Setenv("TARIFF_RATE_LIMIT_ENABLED", "true")
		t.Setenv("TARIFF_RATE_LIMIT_WINDOW", "10s")
		t.Setenv("TARIFF_COMMIT_RATE_LIMIT_REQUESTS", "5")

		got := loadServerConfig()
		if got.Host != "localhost" || got.Port != "3000" || got.HealthPort != "9091" {
			t.Errorf("unexpected address settings: %+v", got)
		}
		if got.ReadTimeout != 30*time.Second {
			t.Errorf("ReadTimeout = %v, want 30s", got.ReadTimeout)
		}
		if got.ShutdownTimeout != 60*time.Second {
			t.Errorf("ShutdownTimeout = %v, want 60s", got.ShutdownTimeout)
		}
		if got.MaxBatchQuotes != 25 {
			t.Errorf("MaxBatchQuotes = %v, want 25", got.MaxBatchQuotes)
		}
		if !got.RateLimitEnabled || got.RateLimit.Window != 10*time.Second {
			t.Errorf("unexpected rate limit: enabled=%v %+v", got.RateLimitEnabled, got.RateLimit)
		}
		if got.CommitRateLimit.Requests != 5 || got.CommitRateLimit.Window != 10*time.Second {
			t.Errorf("unexpected commit rate limit: %+v", got.CommitRateLimit)
		}
	})
}

// TestLoadStorageConfig tests the loadStorageConfig function
func TestLoadStorageConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		got := loadStorageConfig()
		if got.PriceSource != storage.PriceSourceCatalog {
			t.Errorf("PriceSource = %v, want catalog", got.PriceSource)
		}
		if got.Ledger != storage.LedgerMemory {
			t.Errorf("Ledger = %v, want memory", got.Ledger)
		}
		if got.CatalogPath != "prices.yaml" {
			t.Errorf("CatalogPath = %v, want prices.yaml", got.CatalogPath)
		}
		if got.L1CacheSize != 1024 {
			t.Errorf("L1CacheSize = %v, want 1024", got.L1CacheSize)
		}
	})

	t.Run("custom values", func(t *testing.T) {
		t.Setenv("TARIFF_PRICE_SOURCE", "postgres")
		t.Setenv("TARIFF_LEDGER", "redis")
		t.Setenv("TARIFF_POSTGRES_URL", "postgres://localhost/tariff")
		t.Setenv("TARIFF_POSTGRES_REPLICA_URLS", "postgres://replica1/tariff,postgres://replica2/tariff")
		t.Setenv("TARIFF_POSTGRES_MAX_CONNS", "50")
		t.Setenv("TARIFF_POSTGRES_TIMEOUT", "5s")
		t.Setenv("TARIFF_CATALOG_PATH", "s3://pricing/prices.yaml")
		t.Setenv("TARIFF_CATALOG_WATCH", "true")
		t.Setenv("TARIFF_S3_ENDPOINT", "http://localhost:9000")
		t.Setenv("TARIFF_S3_USE_PATH_STYLE", "true")
		t.Setenv("TARIFF_REDIS_URL", "localhost:6379")
		t.Setenv("TARIFF_REDIS_DB", "2")
		t.Setenv("TARIFF_REDIS_KEY_PREFIX", "test:")
		t.Setenv("TARIFF_LEDGER_TTL", "24h")
		t.Setenv("TARIFF_CACHE_ENABLED", "false")
		t.Setenv("TARIFF_L1_CACHE_SIZE", "64")
		t.Setenv("TARIFF_PRICE_CACHE_TTL", "30s")

		got := loadStorageConfig()
		if got.PriceSource != storage.PriceSourcePostgres || got.Ledger != storage.LedgerRedis {
			t.Errorf("unexpected backends: source=%v ledger=%v", got.PriceSource, got.Ledger)
		}
		if got.PostgresMaxConns != 50 || got.PostgresTimeout != 5*time.Second {
			t.Errorf("unexpected postgres settings: %+v", got)
		}
		if !strings.Contains(got.PostgresReplicaURLs, "replica2") {
			t.Errorf("PostgresReplicaURLs = %v", got.PostgresReplicaURLs)
		}
		if !got.IsS3Catalog() || !got.CatalogWatch || !got.S3UsePathStyle {
			t.Errorf("unexpected catalog settings: %+v", got)
		}
		if got.RedisDB != 2 || got.RedisKeyPrefix != "test:" {
			t.Errorf("unexpected redis settings: db=%v prefix=%v", got.RedisDB, got.RedisKeyPrefix)
		}
		if got.LedgerTTL != 24*time.Hour {
			t.Errorf("LedgerTTL = %v, want 24h", got.LedgerTTL)
		}
		if got.CacheEnabled || got.L1CacheSize != 64 {
			t.Errorf("unexpected cache settings: enabled=%v size=%v", got.CacheEnabled, got.L1CacheSize)
		}
		if got.TTL("price", 0) != 30*time.Second {
			t.Errorf("price TTL = %v, want 30s", got.TTL("price", 0))
		}
		if got.TTL("price_l2", 0) != 10*time.Minute {
			t.Errorf("price_l2 TTL = %v, want default 10m", got.TTL("price_l2", 0))
		}
	})
}

// TestLoadObservabilityConfig tests the loadObservabilityConfig function
func TestLoadObservabilityConfig(t *testing.T) {
	t.Setenv("TARIFF_LOG_LEVEL", "debug")
	t.Setenv("TARIFF_OTEL_ENABLED", "true")
	t.Setenv("TARIFF_OTEL_SAMPLE_RATIO", "0.5")

	got := loadObservabilityConfig()
	if got.LogLevel != observability.DebugLevel {
		t.Errorf("LogLevel = %v, want debug", got.LogLevel)
	}
	if !got.MetricsEnabled {
		t.Error("MetricsEnabled should default to true")
	}
	otel := got.OTel()
	if !otel.Enabled || otel.ServiceName != "tariff" || otel.SampleRatio != 0.5 {
		t.Errorf("unexpected otel config: %+v", otel)
	}
}

// TestLoadBillingConfig tests the loadBillingConfig function
func TestLoadBillingConfig(t *testing.T) {
	got := loadBillingConfig()
	if got.Gateway != GatewayMemory {
		t.Errorf("Gateway = %v, want memory", got.Gateway)
	}
	if got.CommitTimeout != billing.DefaultCommitTimeout {
		t.Errorf("CommitTimeout = %v, want %v", got.CommitTimeout, billing.DefaultCommitTimeout)
	}

	t.Setenv("TARIFF_GATEWAY", "Stripe")
	t.Setenv("TARIFF_STRIPE_API_KEY", "sk_test_123")
	t.Setenv("TARIFF_COMMIT_TIMEOUT", "3s")
	t.Setenv("TARIFF_DESCRIPTOR_SECRET", "0123456789abcdef0123")

	got = loadBillingConfig()
	if got.Gateway != GatewayStripe || got.StripeAPIKey != "sk_test_123" {
		t.Errorf("unexpected stripe settings: %+v", got)
	}
	if got.CommitTimeout != 3*time.Second {
		t.Errorf("CommitTimeout = %v, want 3s", got.CommitTimeout)
	}
	if got.DescriptorSecret != "0123456789abcdef0123" {
		t.Errorf("DescriptorSecret = %q", got.DescriptorSecret)
	}
}

func validConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:           "8080",
			HealthPort:     "9090",
			MaxBatchQuotes: 100,
		},
		Storage: storage.DefaultConfig(),
		Billing: BillingConfig{
			Gateway:          GatewayMemory,
			CommitTimeout:    billing.DefaultCommitTimeout,
			LateOutcomeLimit: billing.DefaultLateOutcomeLimit,
		},
	}
}

// TestConfigValidate tests the Validate method
func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing server port",
			mutate:  func(c *Config) { c.Server.Port = "" },
			wantErr: "server port is required",
		},
		{
			name:    "missing health port",
			mutate:  func(c *Config) { c.Server.HealthPort = "" },
			wantErr: "health port is required",
		},
		{
			name:    "same server and health port",
			mutate:  func(c *Config) { c.Server.HealthPort = "8080" },
			wantErr: "server port and health port must be different",
		},
		{
			name:    "batch limit",
			mutate:  func(c *Config) { c.Server.MaxBatchQuotes = 0 },
			wantErr: "max batch quotes must be positive",
		},
		{
			name:    "unknown price source",
			mutate:  func(c *Config) { c.Storage.PriceSource = "spreadsheet" },
			wantErr: "invalid price source",
		},
		{
			name:    "postgres source without url",
			mutate:  func(c *Config) { c.Storage.PriceSource = storage.PriceSourcePostgres },
			wantErr: "postgres URL is required for the postgres price source",
		},
		{
			name: "s3 catalog without key",
			mutate: func(c *Config) {
				c.Storage.CatalogPath = "s3://bucket"
			},
			wantErr: "invalid s3 catalog path",
		},
		{
			name: "s3 catalog with bad schedule",
			mutate: func(c *Config) {
				c.Storage.CatalogPath = "s3://bucket/prices.yaml"
				c.Storage.CatalogRefreshSchedule = "every five minutes"
			},
			wantErr: "invalid catalog refresh schedule",
		},
		{
			name:    "unknown ledger",
			mutate:  func(c *Config) { c.Storage.Ledger = "paper" },
			wantErr: "invalid ledger",
		},
		{
			name:    "redis ledger without url",
			mutate:  func(c *Config) { c.Storage.Ledger = storage.LedgerRedis },
			wantErr: "redis URL is required",
		},
		{
			name: "sqlite ledger with bad prune schedule",
			mutate: func(c *Config) {
				c.Storage.Ledger = storage.LedgerSQLite
				c.Storage.PruneSchedule = "nightly"
			},
			wantErr: "invalid prune schedule",
		},
		{
			name:    "stripe without key",
			mutate:  func(c *Config) { c.Billing.Gateway = GatewayStripe },
			wantErr: "stripe API key is required",
		},
		{
			name:    "unknown gateway",
			mutate:  func(c *Config) { c.Billing.Gateway = "paypal" },
			wantErr: "invalid gateway",
		},
		{
			name:    "late limit shorter than timeout",
			mutate:  func(c *Config) { c.Billing.LateOutcomeLimit = time.Second },
			wantErr: "late outcome limit",
		},
		{
			name:    "short descriptor secret",
			mutate:  func(c *Config) { c.Billing.DescriptorSecret = "hunter2" },
			wantErr: "descriptor secret must be at least",
		},
		{
			name: "otel enabled without endpoint",
			mutate: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelServiceName = "tariff"
			},
			wantErr: "OpenTelemetry endpoint is required",
		},
		{
			name:   "rate limit disabled ignores budget",
			mutate: func(c *Config) { c.Server.RateLimit.Requests = 0 },
		},
		{
			name: "invalid rate limit",
			mutate: func(c *Config) {
				c.Server.RateLimitEnabled = true
				c.Server.RateLimit = ratelimit.Config{Requests: 0, Window: time.Minute}
			},
			wantErr: "invalid rate limit",
		},
		{
			name: "invalid commit rate limit",
			mutate: func(c *Config) {
				c.Server.RateLimitEnabled = true
				c.Server.RateLimit = ratelimit.DefaultConfig()
				c.Server.CommitRateLimit = ratelimit.Config{Requests: 1}
			},
			wantErr: "invalid commit rate limit",
		},
		{
			name:    "sample ratio out of range",
			mutate:  func(c *Config) { c.Observability.OTelSampleRatio = 2 },
			wantErr: "sample ratio",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

// TestLoadConfig tests the LoadConfig function
func TestLoadConfig(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if cfg.Billing.Gateway != GatewayMemory {
			t.Errorf("Gateway = %v, want memory", cfg.Billing.Gateway)
		}
	})

	t.Run("invalid config - same ports", func(t *testing.T) {
		t.Setenv("TARIFF_PORT", "8080")
		t.Setenv("TARIFF_HEALTH_PORT", "8080")

		if _, err := LoadConfig(); err == nil {
			t.Error("LoadConfig() expected error, got nil")
		}
	})
}
