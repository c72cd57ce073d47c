package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLimiter(t *testing.T, cfg Config) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLimiter(client, cfg, "test:ratelimit"), mr
}

func TestRedisLimiter_Allow(t *testing.T) {
	rl, mr := newRedisLimiter(t, Config{Requests: 3, Window: time.Minute, Burst: 1})
	ctx := context.Background()

	var remaining []int
	for i := 0; i < 4; i++ {
		d, err := rl.Allow(ctx, "client")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
		remaining = append(remaining, d.Remaining)
	}
	assert.Equal(t, []int{3, 2, 1, 0}, remaining)

	d, err := rl.Allow(ctx, "client")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	ttl := mr.TTL("test:ratelimit:client")
	assert.True(t, ttl > 0 && ttl <= time.Minute, "ttl %s", ttl)

	mr.FastForward(time.Minute)
	d, err = rl.Allow(ctx, "client")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisLimiter_WindowIsNotExtended(t *testing.T) {
	rl, mr := newRedisLimiter(t, Config{Requests: 10, Window: time.Minute})
	ctx := context.Background()

	_, err := rl.Allow(ctx, "client")
	require.NoError(t, err)
	mr.FastForward(30 * time.Second)
	_, err = rl.Allow(ctx, "client")
	require.NoError(t, err)

	assert.LessOrEqual(t, mr.TTL("test:ratelimit:client"), 30*time.Second)
}

func TestRedisLimiter_Reset(t *testing.T) {
	rl, mr := newRedisLimiter(t, Config{Requests: 1, Window: time.Minute})
	ctx := context.Background()

	rl.Allow(ctx, "client")
	require.NoError(t, rl.Reset(ctx, "client"))
	assert.False(t, mr.Exists("test:ratelimit:client"))
}

func TestRedisLimiter_FailsOpen(t *testing.T) {
	rl, mr := newRedisLimiter(t, Config{Requests: 1, Window: time.Minute})
	mr.Close()

	d, err := rl.Allow(context.Background(), "client")
	assert.Error(t, err)
	assert.True(t, d.Allowed)
	assert.Error(t, rl.HealthCheck(context.Background()))
}
