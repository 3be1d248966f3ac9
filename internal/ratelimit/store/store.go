// Package store provides storage backends for rate limit state.
package store

import (
	"context"
	"time"
)

// Store is the interface for rate limit state storage. Values are
// int64 counters with per-key expiration.
type Store interface {
	// Get retrieves the value for the given key.
	Get(ctx context.Context, key string) (int64, error)

	// Set sets the value for the given key with an expiration.
	Set(ctx context.Context, key string, value int64, expiration time.Duration) error

	// Delete removes the key from the store.
	Delete(ctx context.Context, key string) error

	// TakeToken atomically refills the token bucket at key and spends
	// one token when available. capacity and rate are tokens and
	// tokens per second; nowMs is the caller's clock in epoch
	// milliseconds. Returns the tokens left after the call and whether
	// a token was spent. Implementations must make the refill-and-spend
	// appear atomic per key: concurrent calls may never over-admit.
	TakeToken(ctx context.Context, key string, capacity, rate float64, nowMs int64, expiration time.Duration) (float64, bool, error)

	// Close closes the store and releases resources.
	Close() error
}

// ErrKeyNotFound is returned when a key is not found in the store.
type ErrKeyNotFound struct {
	Key string
}

func (e *ErrKeyNotFound) Error() string {
	return "key not found: " + e.Key
}

// IsKeyNotFound returns true if the error is a key not found error.
func IsKeyNotFound(err error) bool {
	_, ok := err.(*ErrKeyNotFound)
	return ok
}
