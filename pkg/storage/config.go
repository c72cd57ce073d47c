package storage

import (
	"fmt"
	"strings"
	"time"
)

// Price sources
const (
	PriceSourcePostgres = "postgres"
	PriceSourceCatalog  = "catalog"
)

// Ledger backends
const (
	LedgerMemory   = "memory"
	LedgerPostgres = "postgres"
	LedgerRedis    = "redis"
	LedgerSQLite   = "sqlite"
)

// Config for price lookup, ledger and cache backends
type Config struct {
	PriceSource string // "postgres" or "catalog"
	Ledger      string // "memory", "postgres", "redis" or "sqlite"

	// PostgreSQL config
	PostgresURL         string
	PostgresReplicaURLs string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration

	// SQLite ledger file, used by the CLI
	SQLitePath string

	// Catalog config. CatalogPath is a local file or an s3://bucket/key URL.
	CatalogPath            string
	CatalogWatch           bool
	CatalogRefreshSchedule string

	// S3 config
	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
	RedisKeyPrefix  string

	// Ledger retention
	LedgerTTL       time.Duration // redis key expiry
	LedgerRetention time.Duration // SQL pruning age for final records
	PruneSchedule   string

	// Cache config
	CacheEnabled bool
	CacheTTL     map[string]time.Duration
	L1CacheSize  int // entries
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		PriceSource:            PriceSourceCatalog,
		Ledger:                 LedgerMemory,
		PostgresMaxConns:       20,
		PostgresMinConns:       2,
		PostgresTimeout:        10 * time.Second,
		SQLitePath:             "tariff-ledger.db",
		CatalogPath:            "prices.yaml",
		CatalogRefreshSchedule: "*/5 * * * *",
		S3Region:               "us-east-1",
		RedisDB:                0,
		RedisMaxRetries:        3,
		RedisPoolSize:          10,
		RedisKeyPrefix:         "tariff:",
		LedgerTTL:              7 * 24 * time.Hour,
		LedgerRetention:        30 * 24 * time.Hour,
		PruneSchedule:          "0 3 * * *",
		CacheEnabled:           true,
		CacheTTL: map[string]time.Duration{
			"price":    1 * time.Minute,
			"price_l2": 10 * time.Minute,
		},
		L1CacheSize: 1024,
	}
}

// IsS3Catalog reports whether the catalog is read from object storage
func (c Config) IsS3Catalog() bool {
	return strings.HasPrefix(c.CatalogPath, "s3://")
}

// S3Location splits an s3://bucket/key catalog path
func (c Config) S3Location() (bucket, key string, err error) {
	rest := strings.TrimPrefix(c.CatalogPath, "s3://")
	bucket, key, ok := strings.Cut(rest, "/")
	if !c.IsS3Catalog() || !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 catalog path %q", c.CatalogPath)
	}
	return bucket, key, nil
}

// TTL returns the configured TTL for a cache tier, or fallback
func (c Config) TTL(name string, fallback time.Duration) time.Duration {
	if ttl, ok := c.CacheTTL[name]; ok && ttl > 0 {
		return ttl
	}
	return fallback
}
