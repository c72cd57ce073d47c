// Package postgres implements the SQL and Redis storage backends.
//
// PriceStore serves prices from the prices table and ResultStore keeps the
// commit ledger in commit_results. Both use portable SQL, so the same code
// runs on PostgreSQL in the server and on SQLite for the CLI. Migrate creates
// the tables.
//
// ConnectionManager splits reads across replicas and keeps writes on the
// primary. RedisResultStore and RedisCachedLookup provide a Redis ledger and a
// shared L2 price cache.
package postgres
