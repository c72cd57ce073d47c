package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/tariff/pkg/billing"
	"github.com/platinummonkey/tariff/pkg/observability"
	"github.com/platinummonkey/tariff/pkg/pricing"
)

// RedisCachedLookup is a read-through Redis cache in front of a price lookup,
// shared by every replica of the service
type RedisCachedLookup struct {
	next    billing.PriceLookup
	redis   *RedisClient
	ttl     time.Duration
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewRedisCachedLookup wraps next. Entries expire after the "price_l2" cache TTL.
func NewRedisCachedLookup(next billing.PriceLookup, client *RedisClient, metrics *observability.Metrics, logger *observability.Logger) *RedisCachedLookup {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RedisCachedLookup{
		next:    next,
		redis:   client,
		ttl:     client.config.TTL("price_l2", 10*time.Minute),
		metrics: metrics,
		logger:  logger,
	}
}

func (c *RedisCachedLookup) priceKey(id string) string {
	return c.redis.key("price", id)
}

// Resolve serves from Redis when possible. Redis failures fall through to the
// underlying lookup; prices are never served stale past the TTL.
func (c *RedisCachedLookup) Resolve(ctx context.Context, id string) (*pricing.PriceSnapshot, error) {
	key := c.priceKey(id)

	data, err := c.redis.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var rec pricing.PriceRecord
		if err := json.Unmarshal(data, &rec); err == nil {
			if price, err := rec.Snapshot(); err == nil {
				c.metrics.RecordCacheHit("l2")
				return price, nil
			}
		}
		// Corrupt entry
		c.redis.client.Del(ctx, key)
	case err != redis.Nil:
		c.logger.WithError(err).Warn("redis price cache unavailable")
	}
	c.metrics.RecordCacheMiss("l2")

	price, err := c.next.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := c.store(ctx, key, price); err != nil {
		c.logger.WithError(err).WithField("price_id", id).Debug("failed to cache price")
	}
	return price, nil
}

func (c *RedisCachedLookup) store(ctx context.Context, key string, price *pricing.PriceSnapshot) error {
	rec, err := price.Record()
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal price: %w", err)
	}
	return c.redis.client.Set(ctx, key, data, c.ttl).Err()
}

// Invalidate removes the given prices, or every cached price when none are given
func (c *RedisCachedLookup) Invalidate(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return c.redis.InvalidatePatterns(ctx, "price:*")
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.priceKey(id)
	}
	return c.redis.client.Del(ctx, keys...).Err()
}
