// Package cache provides response caching for the gateway, with
// in-memory and Redis backends behind one interface.
package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"time"
)

// Common cache errors.
var (
	// ErrCacheMiss indicates that the key was not found.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidConfig indicates that the cache configuration is invalid.
	ErrInvalidConfig = errors.New("invalid cache configuration")

	// ErrCorruptEntry indicates a stored entry that cannot be decoded.
	ErrCorruptEntry = errors.New("corrupt cache entry")
)

// Cache is the storage interface for cached entries.
type Cache interface {
	// Get retrieves a value. Returns ErrCacheMiss if the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL. A TTL of 0 means the
	// entry never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value.
	Delete(ctx context.Context, key string) error

	// Close closes the cache and releases resources.
	Close() error
}

// Status classifies the outcome of a cache lookup, surfaced to clients
// via the X-Cache-Status header.
type Status string

// Lookup statuses.
const (
	StatusHit     Status = "HIT"
	StatusMiss    Status = "MISS"
	StatusBypass  Status = "BYPASS"
	StatusExpired Status = "EXPIRED"
)

// entryFlagCompressed marks a gzip-compressed body.
const entryFlagCompressed byte = 1 << 0

// envelopeHeaderLen is one flag byte, the expiry timestamp, and the
// content type length.
const envelopeHeaderLen = 1 + 8 + 2

// Entry is a decoded cache entry.
type Entry struct {
	// Body is the stored response body, still compressed when
	// Compressed is set.
	Body []byte

	// ContentType is the response Content-Type, stored uncompressed.
	ContentType string

	// Compressed indicates the body is gzip-compressed.
	Compressed bool

	// ExpiresAt is when the entry logically expires. Entries past
	// this instant are treated as absent regardless of backend.
	ExpiresAt time.Time
}

// IsExpired returns true once the entry has passed its expiry.
func (e *Entry) IsExpired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// encodeEntry serializes an entry into the backend storage format:
// one flag byte, the expiry as unix milliseconds, the content type
// length and bytes, then the body.
func encodeEntry(e *Entry) []byte {
	ct := []byte(e.ContentType)
	if len(ct) > 0xffff {
		ct = ct[:0xffff]
	}

	buf := make([]byte, envelopeHeaderLen+len(ct)+len(e.Body))
	if e.Compressed {
		buf[0] |= entryFlagCompressed
	}
	var expiresMs int64
	if !e.ExpiresAt.IsZero() {
		expiresMs = e.ExpiresAt.UnixMilli()
	}
	binary.BigEndian.PutUint64(buf[1:9], uint64(expiresMs))
	binary.BigEndian.PutUint16(buf[9:11], uint16(len(ct)))
	copy(buf[envelopeHeaderLen:], ct)
	copy(buf[envelopeHeaderLen+len(ct):], e.Body)
	return buf
}

// decodeEntry parses the backend storage format.
func decodeEntry(data []byte) (*Entry, error) {
	if len(data) < envelopeHeaderLen {
		return nil, ErrCorruptEntry
	}
	ctLen := int(binary.BigEndian.Uint16(data[9:11]))
	if len(data) < envelopeHeaderLen+ctLen {
		return nil, ErrCorruptEntry
	}

	e := &Entry{
		Compressed:  data[0]&entryFlagCompressed != 0,
		ContentType: string(data[envelopeHeaderLen : envelopeHeaderLen+ctLen]),
		Body:        data[envelopeHeaderLen+ctLen:],
	}
	if expiresMs := int64(binary.BigEndian.Uint64(data[1:9])); expiresMs > 0 {
		e.ExpiresAt = time.UnixMilli(expiresMs)
	}
	return e, nil
}
