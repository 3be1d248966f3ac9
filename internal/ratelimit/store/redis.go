package store

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// tokenBucketScript refills and spends from a bucket in one atomic
// step inside Redis, so concurrent checks on a key cannot over-admit.
// State is a hash of milli-tokens and the last refill time in epoch
// milliseconds. Returns {allowed (0 or 1), milli-tokens after the call}.
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local capacity = tonumber(ARGV[1]) -- milli-tokens
	local rate = tonumber(ARGV[2])     -- milli-tokens per second
	local now = tonumber(ARGV[3])      -- epoch milliseconds
	local ttl = tonumber(ARGV[4])      -- seconds

	local state = redis.call('HMGET', key, 'tokens', 'last_refill')
	local tokens = tonumber(state[1])
	local last_refill = tonumber(state[2])

	if tokens == nil then
		tokens = capacity
		last_refill = now
	end

	local elapsed = (now - last_refill) / 1000.0
	tokens = math.min(capacity, tokens + elapsed * rate)

	local allowed = 0
	if tokens >= 1000 then
		tokens = tokens - 1000
		allowed = 1
	end

	tokens = math.floor(tokens + 0.5)
	redis.call('HMSET', key, 'tokens', tokens, 'last_refill', now)
	redis.call('EXPIRE', key, ttl)

	return {allowed, tokens}
`)

// RedisStore implements Store using Redis. When configured it becomes
// the source of truth for multi-instance deployments.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
	mu     sync.Mutex
	closed bool
}

// RedisConfig holds configuration for the Redis store.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string

	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewRedisStore creates a new Redis-backed store and verifies the
// connection with a ping.
func NewRedisStore(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis store: ping failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "ratelimit:"
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// NewRedisStoreWithClient wraps an existing client, mainly for tests.
func NewRedisStoreWithClient(client *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + key
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if err == redis.Nil {
		return 0, &ErrKeyNotFound{Key: key}
	}
	if err != nil {
		return 0, fmt.Errorf("redis store: get %s: %w", key, err)
	}

	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis store: non-integer value for %s: %w", key, err)
	}
	return n, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key string, value int64, expiration time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, expiration).Err(); err != nil {
		return fmt.Errorf("redis store: set %s: %w", key, err)
	}
	return nil
}

// TakeToken implements Store using the atomic Lua script.
func (s *RedisStore) TakeToken(ctx context.Context, key string, capacity, rate float64, nowMs int64, expiration time.Duration) (float64, bool, error) {
	ttl := int64(expiration / time.Second)
	if ttl < 1 {
		ttl = 1
	}

	result, err := tokenBucketScript.Run(ctx, s.client, []string{s.key(key)},
		int64(math.Round(capacity*1000)),
		rate*1000,
		nowMs,
		ttl,
	).Result()
	if err != nil {
		return 0, false, fmt.Errorf("redis store: take token %s: %w", key, err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return 0, false, fmt.Errorf("redis store: unexpected script result for %s: %v", key, result)
	}

	allowed, _ := values[0].(int64)
	milliTokens, _ := values[1].(int64)

	return float64(milliTokens) / 1000.0, allowed == 1, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis store: delete %s: %w", key, err)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.client.Close()
}
