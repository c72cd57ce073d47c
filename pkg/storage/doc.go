// Package storage wires the persistence backends behind the billing engine.
//
// Prices are read through a billing.PriceLookup. Two sources exist: the
// prices table in PostgreSQL (package postgres) and a YAML catalog (package
// catalog) read from disk or S3. Either source can be fronted by two cache
// tiers:
//
//   - L1: CachedLookup, an in-process expirable LRU
//   - L2: postgres.RedisCachedLookup, shared across replicas through Redis
//
// Commit results are recorded in a billing.ResultStore. The ledger backends
// are the in-memory store from package billing, the SQL ledger in package
// postgres (PostgreSQL in production, SQLite for the CLI) and the Redis
// ledger. All of them share one rule: a final result (applied or failed) is
// never overwritten.
//
// Config carries the settings for all of the above and is populated from the
// environment by package config.
package storage
