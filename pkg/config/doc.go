// Package config loads service configuration from environment variables.
//
// Every setting has a default, so an empty environment yields a server that
// reads prices from ./prices.yaml, keeps its commit ledger in memory and
// commits through the in-memory gateway.
//
// Server settings:
//
//	TARIFF_HOST="0.0.0.0"
//	TARIFF_PORT="8080"
//	TARIFF_HEALTH_PORT="9090"
//	TARIFF_READ_TIMEOUT="15s"
//	TARIFF_MAX_BATCH_QUOTES="100"
//
// Price source and ledger:
//
//	TARIFF_PRICE_SOURCE="catalog"   # catalog, postgres
//	TARIFF_CATALOG_PATH="prices.yaml"   # or s3://bucket/key
//	TARIFF_CATALOG_WATCH="true"
//	TARIFF_CATALOG_REFRESH_SCHEDULE="*/5 * * * *"
//	TARIFF_LEDGER="postgres"        # memory, postgres, redis, sqlite
//	TARIFF_POSTGRES_URL="postgres://localhost/tariff?sslmode=disable"
//	TARIFF_REDIS_URL="localhost:6379"
//	TARIFF_LEDGER_RETENTION="720h"
//	TARIFF_PRUNE_SCHEDULE="0 3 * * *"
//
// Billing:
//
//	TARIFF_GATEWAY="stripe"         # memory, stripe
//	TARIFF_STRIPE_API_KEY="sk_test_..."
//	TARIFF_COMMIT_TIMEOUT="10s"
//	TARIFF_LATE_OUTCOME_LIMIT="2m"
//
// Observability:
//
//	TARIFF_LOG_LEVEL="info"         # debug, info, warn, error
//	TARIFF_METRICS_ENABLED="true"
//	TARIFF_OTEL_ENABLED="true"
//	TARIFF_OTEL_ENDPOINT="otel-collector:4317"
package config
