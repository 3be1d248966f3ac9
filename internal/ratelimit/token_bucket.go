package ratelimit

import (
	"context"
	"io"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/urbansense/trafficgw/internal/config"
	"github.com/urbansense/trafficgw/internal/observability"
	"github.com/urbansense/trafficgw/internal/ratelimit/store"
)

var _ io.Closer = (*Limiter)(nil)

// allowedWindowHint is the reset hint returned for allowed requests.
const allowedWindowHint = time.Minute

// Limiter implements the token bucket algorithm keyed by principal.
// Limits are requests per minute; a bucket holds at most limit+burst
// tokens and refills continuously at limit/60 tokens per second.
//
// With a Store configured, bucket state lives in the external store
// and is shared across gateway instances. Without one, per-key buckets
// are kept in memory with fine-grained locking; that path does not
// coordinate across processes.
//
// Implements io.Closer: Close stops the background bucket cleanup.
type Limiter struct {
	defaultLimit int
	burst        int
	overrides    []endpointLimit
	store        store.Store
	logger       observability.Logger

	buckets sync.Map

	// now is the clock, injectable for tests.
	now func() time.Time

	cleanupInterval time.Duration
	bucketTTL       time.Duration
	stopCleanup     chan struct{}
	cleanupOnce     sync.Once
}

// bucket holds the token state for a single principal key. The mutex
// makes the read-refill-spend sequence atomic per key.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// LimiterOption is a functional option for the limiter.
type LimiterOption func(*Limiter)

// WithStore sets the external state store.
func WithStore(s store.Store) LimiterOption {
	return func(l *Limiter) {
		l.store = s
	}
}

// WithLimiterLogger sets the logger.
func WithLimiterLogger(logger observability.Logger) LimiterOption {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithClock sets the clock used for refill math. For tests.
func WithClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter creates a token bucket limiter from configuration.
// Starts a background cleanup goroutine for stale in-memory buckets.
func NewLimiter(cfg *config.RateLimitConfig, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		defaultLimit:    cfg.DefaultLimit,
		burst:           cfg.BurstSize,
		overrides:       compileEndpointLimits(cfg.EndpointLimits),
		logger:          observability.NopLogger(),
		now:             time.Now,
		cleanupInterval: 5 * time.Minute,
		bucketTTL:       10 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(l)
	}

	go l.startCleanupLoop()

	return l
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (l *Limiter) Close() error {
	l.cleanupOnce.Do(func() {
		close(l.stopCleanup)
	})
	return nil
}

// resolveLimit picks the applicable per-minute limit: the first
// matching endpoint override, then the principal's own limit, then
// the default.
func (l *Limiter) resolveLimit(method, path string, principalLimit int) int {
	for i := range l.overrides {
		if l.overrides[i].matches(method, path) {
			return l.overrides[i].limit
		}
	}
	if principalLimit > 0 {
		return principalLimit
	}
	return l.defaultLimit
}

// Check performs an acquire-and-refill on the principal's bucket.
// principalLimit, when positive, overrides the default limit (API keys
// carry their own limit). The bucket is keyed by principal and limit,
// so an endpoint override gets its own bucket.
func (l *Limiter) Check(ctx context.Context, principal, method, path string, principalLimit int) (*Result, error) {
	limit := l.resolveLimit(method, path, principalLimit)
	if limit <= 0 {
		limit = l.defaultLimit
	}

	key := principal + "|" + strconv.Itoa(limit)

	if l.store != nil {
		return l.checkDistributed(ctx, key, limit)
	}
	return l.checkLocal(key, limit), nil
}

// checkLocal performs the check against an in-memory bucket.
func (l *Limiter) checkLocal(key string, limit int) *Result {
	now := l.now()
	capacity := float64(limit + l.burst)

	value, _ := l.buckets.LoadOrStore(key, &bucket{
		tokens:     capacity,
		lastRefill: now,
	})
	b := value.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()

	rate := float64(limit) / 60.0

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = math.Min(capacity, b.tokens+elapsed*rate)
	b.lastRefill = now

	allowed := b.tokens >= 1
	if allowed {
		b.tokens--
	}

	return l.result(allowed, limit, b.tokens, rate, now)
}

// checkDistributed performs the check against the external store. The
// refill-and-spend runs as one atomic store operation per key, so
// concurrent checks through any number of gateway instances cannot
// over-admit.
func (l *Limiter) checkDistributed(ctx context.Context, key string, limit int) (*Result, error) {
	now := l.now()
	capacity := float64(limit + l.burst)
	rate := float64(limit) / 60.0

	// State expires once a full bucket could have refilled.
	expiration := time.Duration(capacity/rate+1) * time.Second

	tokens, allowed, err := l.store.TakeToken(ctx, key, capacity, rate, now.UnixMilli(), expiration)
	if err != nil {
		return nil, err
	}

	return l.result(allowed, limit, tokens, rate, now), nil
}

// result assembles the check outcome and reset estimates.
func (l *Limiter) result(allowed bool, limit int, tokens, rate float64, now time.Time) *Result {
	remaining := int(tokens)
	if remaining < 0 {
		remaining = 0
	}

	r := &Result{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
	}

	if allowed {
		r.Reset = now.Add(allowedWindowHint).Unix()
	} else {
		wait := math.Ceil((1 - tokens) / rate)
		if wait < 1 {
			wait = 1
		}
		r.RetryAfter = time.Duration(wait) * time.Second
		r.Reset = now.Add(r.RetryAfter).Unix()
	}

	getMetrics().record(allowed)

	return r
}

// Reset clears the bucket state for a principal key. For tests and
// administrative use.
func (l *Limiter) Reset(ctx context.Context, principal string, limit int) error {
	key := principal + "|" + strconv.Itoa(limit)
	l.buckets.Delete(key)

	if l.store != nil {
		return l.store.Delete(ctx, key)
	}
	return nil
}

// startCleanupLoop runs the periodic cleanup of stale buckets.
func (l *Limiter) startCleanupLoop() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Cleanup(l.bucketTTL)
		case <-l.stopCleanup:
			return
		}
	}
}

// Cleanup removes in-memory buckets idle for longer than maxAge.
func (l *Limiter) Cleanup(maxAge time.Duration) {
	now := l.now()

	l.buckets.Range(func(key, value interface{}) bool {
		b := value.(*bucket)
		b.mu.Lock()
		if now.Sub(b.lastRefill) > maxAge {
			l.buckets.Delete(key)
		}
		b.mu.Unlock()
		return true
	})
}
