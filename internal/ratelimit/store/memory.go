package store

import (
	"context"
	"math"
	"sync"
	"time"
)

// entry represents a stored value with expiration.
type entry struct {
	value      int64
	expiration time.Time
}

// bucketState holds one token bucket. The mutex makes the
// refill-and-spend sequence atomic per key.
type bucketState struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill int64
	expiration time.Time
}

// MemoryStore implements Store using in-memory storage. It is the
// single-instance fallback: state is not coordinated across processes.
type MemoryStore struct {
	data    sync.Map
	buckets sync.Map
	cleanup *time.Ticker
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithCleanupInterval(time.Minute)
}

// NewMemoryStoreWithCleanupInterval creates a new in-memory store with
// a custom cleanup interval.
func NewMemoryStoreWithCleanupInterval(interval time.Duration) *MemoryStore {
	s := &MemoryStore{
		cleanup: time.NewTicker(interval),
		done:    make(chan struct{}),
	}

	go s.startCleanup()

	return s
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	value, ok := s.data.Load(key)
	if !ok {
		return 0, &ErrKeyNotFound{Key: key}
	}

	e := value.(*entry)

	if !e.expiration.IsZero() && time.Now().After(e.expiration) {
		s.data.Delete(key)
		return 0, &ErrKeyNotFound{Key: key}
	}

	return e.value, nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, key string, value int64, expiration time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	var exp time.Time
	if expiration > 0 {
		exp = time.Now().Add(expiration)
	}

	s.data.Store(key, &entry{
		value:      value,
		expiration: exp,
	})

	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.data.Delete(key)
	s.buckets.Delete(key)
	return nil
}

// TakeToken implements Store. The bucket's mutex keeps concurrent
// refill-and-spend sequences on one key mutually exclusive.
func (s *MemoryStore) TakeToken(ctx context.Context, key string, capacity, rate float64, nowMs int64, expiration time.Duration) (float64, bool, error) {
	select {
	case <-ctx.Done():
		return 0, false, ctx.Err()
	default:
	}

	value, _ := s.buckets.LoadOrStore(key, &bucketState{
		tokens:     capacity,
		lastRefill: nowMs,
	})
	b := value.(*bucketState)

	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := float64(nowMs-b.lastRefill) / 1000.0
	b.tokens = math.Min(capacity, b.tokens+elapsed*rate)
	b.lastRefill = nowMs

	allowed := b.tokens >= 1
	if allowed {
		b.tokens--
	}

	if expiration > 0 {
		b.expiration = time.Now().Add(expiration)
	}

	return b.tokens, allowed, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.cleanup.Stop()
	close(s.done)

	return nil
}

// startCleanup periodically removes expired entries.
func (s *MemoryStore) startCleanup() {
	for {
		select {
		case <-s.cleanup.C:
			s.cleanupExpired()
		case <-s.done:
			return
		}
	}
}

// cleanupExpired removes all expired entries and buckets.
func (s *MemoryStore) cleanupExpired() {
	now := time.Now()

	s.data.Range(func(key, value interface{}) bool {
		e := value.(*entry)
		if !e.expiration.IsZero() && now.After(e.expiration) {
			s.data.Delete(key)
		}
		return true
	})

	s.buckets.Range(func(key, value interface{}) bool {
		b := value.(*bucketState)
		b.mu.Lock()
		expired := !b.expiration.IsZero() && now.After(b.expiration)
		b.mu.Unlock()
		if expired {
			s.buckets.Delete(key)
		}
		return true
	})
}

// Size returns the number of entries in the store.
func (s *MemoryStore) Size() int {
	count := 0
	s.data.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}
