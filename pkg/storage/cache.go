package storage

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/tariff/pkg/billing"
	"github.com/platinummonkey/tariff/pkg/observability"
	"github.com/platinummonkey/tariff/pkg/pricing"
)

// CachedLookup is an in-process LRU in front of another price lookup.
// Only successful lookups are cached; misses and errors always reach the
// underlying lookup.
type CachedLookup struct {
	next    billing.PriceLookup
	cache   *lru.LRU[string, *pricing.PriceSnapshot]
	metrics *observability.Metrics
}

// NewCachedLookup wraps next with an LRU of size entries that expire after ttl
func NewCachedLookup(next billing.PriceLookup, size int, ttl time.Duration, metrics *observability.Metrics) *CachedLookup {
	if size < 16 {
		size = 16
	}
	return &CachedLookup{
		next:    next,
		cache:   lru.NewLRU[string, *pricing.PriceSnapshot](size, nil, ttl),
		metrics: metrics,
	}
}

func (c *CachedLookup) Resolve(ctx context.Context, id string) (*pricing.PriceSnapshot, error) {
	if price, ok := c.cache.Get(id); ok {
		c.metrics.RecordCacheHit("l1")
		return price, nil
	}
	c.metrics.RecordCacheMiss("l1")

	price, err := c.next.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Add(id, price)
	return price, nil
}

// Invalidate drops one price, or every price when no id is given
func (c *CachedLookup) Invalidate(ids ...string) {
	if len(ids) == 0 {
		c.cache.Purge()
		return
	}
	for _, id := range ids {
		c.cache.Remove(id)
	}
}

// Len returns the number of cached prices
func (c *CachedLookup) Len() int {
	return c.cache.Len()
}
