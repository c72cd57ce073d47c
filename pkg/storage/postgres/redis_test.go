package postgres

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tariff/pkg/billing"
	"github.com/platinummonkey/tariff/pkg/pricing"
	"github.com/platinummonkey/tariff/pkg/storage"
)

// setupRedisClientTest creates a miniredis instance and a client connected to it
func setupRedisClientTest(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	config := storage.DefaultConfig()
	config.RedisURL = "redis://" + mr.Addr()
	config.LedgerTTL = time.Hour

	client, err := NewRedisClient(config)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	config := storage.DefaultConfig()
	config.RedisURL = "invalid://url"

	_, err := NewRedisClient(config)
	assert.Error(t, err)
}

func TestNewRedisClient_ConnectionFailure(t *testing.T) {
	config := storage.DefaultConfig()
	config.RedisURL = "redis://localhost:1"

	_, err := NewRedisClient(config)
	assert.Error(t, err)
}

func TestRedisResultStore(t *testing.T) {
	ctx := context.Background()
	client, mr := setupRedisClientTest(t)
	store := NewRedisResultStore(client, nil)
	now := time.Now().UTC()

	_, err := store.Get(ctx, "cd_a")
	assert.ErrorIs(t, err, billing.ErrResultNotFound)

	ok, err := store.Reserve(ctx, resultRecord("cd_a", billing.StatusPending, now))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("tariff:result:cd_a"))
	assert.Equal(t, time.Hour, mr.TTL("tariff:result:cd_a"))

	ok, err = store.Reserve(ctx, resultRecord("cd_a", billing.StatusPending, now))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save(ctx, resultRecord("cd_a", billing.StatusFailed, now)))
	require.NoError(t, store.Save(ctx, resultRecord("cd_a", billing.StatusApplied, now)))

	rec, err := store.Get(ctx, "cd_a")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusFailed, rec.Result.Status)

	mr.FastForward(2 * time.Hour)
	_, err = store.Get(ctx, "cd_a")
	assert.ErrorIs(t, err, billing.ErrResultNotFound)
}

func TestRedisResultStore_UnavailableRedis(t *testing.T) {
	client, mr := setupRedisClientTest(t)
	store := NewRedisResultStore(client, nil)
	mr.Close()

	_, err := store.Get(context.Background(), "cd_a")
	require.Error(t, err)
	assert.NotErrorIs(t, err, billing.ErrResultNotFound)
}

type countingLookup struct {
	calls  atomic.Int32
	prices map[string]pricing.PriceRecord
}

func (l *countingLookup) Resolve(ctx context.Context, id string) (*pricing.PriceSnapshot, error) {
	l.calls.Add(1)
	rec, ok := l.prices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", pricing.ErrPriceNotFound, id)
	}
	return rec.Snapshot()
}

func TestRedisCachedLookup(t *testing.T) {
	ctx := context.Background()
	client, mr := setupRedisClientTest(t)
	next := &countingLookup{prices: map[string]pricing.PriceRecord{
		"price_seats": graduatedRecord("price_seats", "USD"),
	}}
	lookup := NewRedisCachedLookup(next, client, nil, nil)

	first, err := lookup.Resolve(ctx, "price_seats")
	require.NoError(t, err)
	second, err := lookup.Resolve(ctx, "price_seats")
	require.NoError(t, err)

	assert.Equal(t, int32(1), next.calls.Load())
	assert.Equal(t, first.Tiers.Len(), second.Tiers.Len())
	assert.Equal(t, 10*time.Minute, mr.TTL("tariff:price:price_seats"))

	_, err = lookup.Resolve(ctx, "price_missing")
	assert.ErrorIs(t, err, pricing.ErrPriceNotFound)
	assert.False(t, mr.Exists("tariff:price:price_missing"))

	require.NoError(t, lookup.Invalidate(ctx, "price_seats"))
	_, err = lookup.Resolve(ctx, "price_seats")
	require.NoError(t, err)
	assert.Equal(t, int32(3), next.calls.Load())

	require.NoError(t, lookup.Invalidate(ctx))
	assert.False(t, mr.Exists("tariff:price:price_seats"))
}

func TestRedisCachedLookup_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	client, mr := setupRedisClientTest(t)
	next := &countingLookup{prices: map[string]pricing.PriceRecord{
		"price_seats": graduatedRecord("price_seats", "USD"),
	}}
	lookup := NewRedisCachedLookup(next, client, nil, nil)

	require.NoError(t, mr.Set("tariff:price:price_seats", "{corrupt"))

	price, err := lookup.Resolve(ctx, "price_seats")
	require.NoError(t, err)
	assert.Equal(t, "price_seats", price.ID)
	assert.Equal(t, int32(1), next.calls.Load())
}

func TestRedisCachedLookup_RedisDown(t *testing.T) {
	client, mr := setupRedisClientTest(t)
	next := &countingLookup{prices: map[string]pricing.PriceRecord{
		"price_seats": graduatedRecord("price_seats", "USD"),
	}}
	lookup := NewRedisCachedLookup(next, client, nil, nil)
	mr.Close()

	price, err := lookup.Resolve(context.Background(), "price_seats")
	require.NoError(t, err)
	assert.Equal(t, "price_seats", price.ID)
}
