package cache

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetGet(t *testing.T) {
	c := NewMemoryCache(10, nil)
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))

	val, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), val)
}

func TestMemoryCache_Miss(t *testing.T) {
	c := NewMemoryCache(10, nil)
	t.Cleanup(func() { _ = c.Close() })

	_, err := c.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	c := NewMemoryCache(10, nil)
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Millisecond))

	time.Sleep(10 * time.Millisecond)

	_, err := c.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	c := NewMemoryCache(2, nil)
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))
	require.NoError(t, c.Set(ctx, "k2", []byte("v2"), time.Minute))

	// Touch k1 so k2 becomes the eviction candidate.
	_, err := c.Get(ctx, "k1")
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "k3", []byte("v3"), time.Minute))

	_, err = c.Get(ctx, "k1")
	assert.NoError(t, err)
	_, err = c.Get(ctx, "k2")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "k3")
	assert.NoError(t, err)
}

func TestMemoryCache_Delete(t *testing.T) {
	c := NewMemoryCache(10, nil)
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))
	require.NoError(t, c.Delete(ctx, "k1"))

	_, err := c.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCache_SetGetDelete(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCacheWithClient(client, "", nil)
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))

	val, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), val)

	require.NoError(t, c.Delete(ctx, "k1"))
	_, err = c.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCache_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCacheWithClient(client, "", nil)
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Second))

	mr.FastForward(2 * time.Second)

	_, err := c.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCompressor_RoundTrip(t *testing.T) {
	comp := newCompressor(10, 6)

	body := bytes.Repeat([]byte("traffic sensor reading "), 100)
	compressed, ok := comp.Compress(body)
	require.True(t, ok)
	assert.Less(t, len(compressed), len(body))

	restored, err := comp.Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, body, restored)
}

func TestCompressor_BelowThreshold(t *testing.T) {
	comp := newCompressor(1024, 6)

	body := []byte("small")
	out, ok := comp.Compress(body)
	assert.False(t, ok)
	assert.Equal(t, body, out)
}

func TestCompressor_IncompressibleKeptRaw(t *testing.T) {
	comp := newCompressor(1, 6)

	// High-entropy input that gzip cannot shrink.
	body := make([]byte, 64)
	for i := range body {
		body[i] = byte(i*37 + 11)
	}

	_, ok := comp.Compress(body)
	assert.False(t, ok)
}

func TestEntryEnvelope_RoundTrip(t *testing.T) {
	expires := time.Now().Add(time.Minute).Truncate(time.Millisecond)
	entry := &Entry{
		Body:        []byte("payload"),
		ContentType: "application/json",
		Compressed:  true,
		ExpiresAt:   expires,
	}

	decoded, err := decodeEntry(encodeEntry(entry))
	require.NoError(t, err)
	assert.Equal(t, entry.Body, decoded.Body)
	assert.Equal(t, entry.ContentType, decoded.ContentType)
	assert.True(t, decoded.Compressed)
	assert.Equal(t, expires.UnixMilli(), decoded.ExpiresAt.UnixMilli())
}

func TestDecodeEntry_Corrupt(t *testing.T) {
	_, err := decodeEntry([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrCorruptEntry)
}
