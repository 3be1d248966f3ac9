package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/urbansense/trafficgw/internal/observability"
)

// redisCache implements Cache using Redis. Entry expiry is enforced
// both by the Redis TTL and by the entry envelope, so lazy-expiry
// semantics hold even if the two drift.
type redisCache struct {
	client *redis.Client
	prefix string
	logger observability.Logger

	mu     sync.Mutex
	closed bool
}

// RedisOptions holds connection settings for the Redis cache backend.
type RedisOptions struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// NewRedisCache creates a Redis-backed cache and verifies the
// connection with a ping.
func NewRedisCache(ctx context.Context, opts RedisOptions, logger observability.Logger) (Cache, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}

	return newRedisCacheWithClient(client, opts.Prefix, logger), nil
}

// NewRedisCacheWithClient wraps an existing client, mainly for tests.
func NewRedisCacheWithClient(client *redis.Client, prefix string, logger observability.Logger) Cache {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return newRedisCacheWithClient(client, prefix, logger)
}

func newRedisCacheWithClient(client *redis.Client, prefix string, logger observability.Logger) *redisCache {
	if prefix == "" {
		prefix = "cache:"
	}
	return &redisCache{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

func (c *redisCache) key(key string) string {
	return c.prefix + key
}

// Get retrieves a value from Redis.
func (c *redisCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		GetCacheMetrics().missesTotal.WithLabelValues("redis").Inc()
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis cache: get %s: %w", key, err)
	}

	GetCacheMetrics().hitsTotal.WithLabelValues("redis").Inc()
	return data, nil
}

// Set stores a value in Redis.
func (c *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis cache: set %s: %w", key, err)
	}
	return nil
}

// Delete removes a value from Redis.
func (c *redisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis cache: delete %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *redisCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	return c.client.Close()
}
