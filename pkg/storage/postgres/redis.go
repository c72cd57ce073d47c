package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/tariff/pkg/billing"
	"github.com/platinummonkey/tariff/pkg/observability"
	"github.com/platinummonkey/tariff/pkg/storage"
)

// RedisClient wraps the shared Redis connection used by the ledger and the L2 price cache
type RedisClient struct {
	client *redis.Client
	config storage.Config
}

// NewRedisClient connects to the configured Redis URL
func NewRedisClient(config storage.Config) (*RedisClient, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if config.RedisPassword != "" {
		opts.Password = config.RedisPassword
	}
	if config.RedisDB > 0 {
		opts.DB = config.RedisDB
	}
	if config.RedisMaxRetries > 0 {
		opts.MaxRetries = config.RedisMaxRetries
	}
	if config.RedisPoolSize > 0 {
		opts.PoolSize = config.RedisPoolSize
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisClient{client: client, config: config}, nil
}

func (c *RedisClient) key(parts ...string) string {
	key := c.config.RedisKeyPrefix
	for i, p := range parts {
		if i > 0 {
			key += ":"
		}
		key += p
	}
	return key
}

// Ping checks Redis connectivity
func (c *RedisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// GetClient returns the underlying client for health checks
func (c *RedisClient) GetClient() *redis.Client {
	return c.client
}

// Close closes the Redis connection
func (c *RedisClient) Close() error {
	return c.client.Close()
}

// InvalidatePatterns removes keys matching patterns under the key prefix
func (c *RedisClient) InvalidatePatterns(ctx context.Context, patterns ...string) error {
	for _, pattern := range patterns {
		iter := c.client.Scan(ctx, 0, c.config.RedisKeyPrefix+pattern, 100).Iterator()
		for iter.Next(ctx) {
			if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scan failed for pattern %s: %w", pattern, err)
		}
	}
	return nil
}

const saveAttempts = 3

// RedisResultStore keeps the commit ledger in Redis. Records expire after
// the configured ledger TTL.
type RedisResultStore struct {
	redis   *RedisClient
	ttl     time.Duration
	metrics *observability.Metrics
}

// NewRedisResultStore creates a ledger on client
func NewRedisResultStore(client *RedisClient, metrics *observability.Metrics) *RedisResultStore {
	ttl := client.config.LedgerTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisResultStore{redis: client, ttl: ttl, metrics: metrics}
}

func (s *RedisResultStore) resultKey(descriptor billing.CommitDescriptor) string {
	return s.redis.key("result", string(descriptor))
}

func (s *RedisResultStore) Get(ctx context.Context, descriptor billing.CommitDescriptor) (*billing.ResultRecord, error) {
	start := time.Now()
	data, err := s.redis.client.Get(ctx, s.resultKey(descriptor)).Bytes()
	if err == redis.Nil {
		s.metrics.RecordStorageOperation("get_result", "redis", time.Since(start), nil)
		return nil, fmt.Errorf("%w: %s", billing.ErrResultNotFound, descriptor)
	}
	s.metrics.RecordStorageOperation("get_result", "redis", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var rec billing.ResultRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode commit result: %w", err)
	}
	return &rec, nil
}

func (s *RedisResultStore) Reserve(ctx context.Context, rec billing.ResultRecord) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("failed to encode commit result: %w", err)
	}

	start := time.Now()
	ok, err := s.redis.client.SetNX(ctx, s.resultKey(rec.Descriptor), data, s.ttl).Result()
	s.metrics.RecordStorageOperation("reserve_result", "redis", time.Since(start), err)
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

// Save writes rec unless the stored record is final. The check and the write
// run in one optimistic transaction and are retried when the key changes
// underneath.
func (s *RedisResultStore) Save(ctx context.Context, rec billing.ResultRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode commit result: %w", err)
	}

	key := s.resultKey(rec.Descriptor)
	txf := func(tx *redis.Tx) error {
		existing, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
		case err != nil:
			return err
		default:
			var current billing.ResultRecord
			if json.Unmarshal(existing, &current) == nil && current.Result.Status.Final() {
				return nil
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}

	start := time.Now()
	for attempt := 0; attempt < saveAttempts; attempt++ {
		err = s.redis.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	s.metrics.RecordStorageOperation("save_result", "redis", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to save commit result: %w", err)
	}
	return nil
}
