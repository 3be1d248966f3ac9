package cache

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urbansense/trafficgw/internal/config"
)

func testCachingConfig() *config.CachingConfig {
	return &config.CachingConfig{
		Enabled:    true,
		DefaultTTL: config.Duration(time.Minute),
		MaxTTL:     config.Duration(10 * time.Minute),
		MaxEntries: 100,
		Storage:    config.StorageMemory,
		Compression: config.CompressionConfig{
			Enabled: true,
			MinSize: 16,
			Level:   6,
		},
		Invalidation: []config.InvalidationRule{
			{
				Method:             "POST",
				Pattern:            "/api/v1/incidents/*",
				InvalidatePatterns: []string{"/api/v1/incidents/*", "/api/v1/congestion/*"},
			},
		},
	}
}

func newTestResponseCache(t *testing.T) *ResponseCache {
	t.Helper()

	backend := NewMemoryCache(100, nil)
	rc := NewResponseCache(backend, testCachingConfig(), nil)
	t.Cleanup(func() { _ = rc.Close() })
	return rc
}

func enabledPolicy() *config.RouteCacheConfig {
	return &config.RouteCacheConfig{
		Enabled: true,
		TTL:     config.Duration(30 * time.Second),
		VaryBy:  []string{"query:zone"},
	}
}

func TestResponseCache_MissThenHit(t *testing.T) {
	rc := newTestResponseCache(t)
	ctx := context.Background()

	r := httptest.NewRequest("GET", "/api/v1/congestion?zone=7", nil)
	policy := enabledPolicy()

	_, status := rc.Lookup(ctx, r, policy)
	assert.Equal(t, StatusMiss, status)

	require.NoError(t, rc.Store(ctx, r, policy, "application/json", []byte(`{"zone":7}`)))

	cached, status := rc.Lookup(ctx, r, policy)
	require.Equal(t, StatusHit, status)
	assert.Equal(t, []byte(`{"zone":7}`), cached.Body)
	assert.Equal(t, "application/json", cached.ContentType)
}

func TestResponseCache_BypassForDisabledPolicy(t *testing.T) {
	rc := newTestResponseCache(t)
	ctx := context.Background()

	r := httptest.NewRequest("GET", "/api/v1/congestion", nil)

	_, status := rc.Lookup(ctx, r, &config.RouteCacheConfig{Enabled: false})
	assert.Equal(t, StatusBypass, status)

	_, status = rc.Lookup(ctx, r, nil)
	assert.Equal(t, StatusBypass, status)
}

func TestResponseCache_BypassForNonGET(t *testing.T) {
	rc := newTestResponseCache(t)
	ctx := context.Background()

	r := httptest.NewRequest("POST", "/api/v1/congestion", nil)

	_, status := rc.Lookup(ctx, r, enabledPolicy())
	assert.Equal(t, StatusBypass, status)

	// Store is a no-op for non-GET too.
	require.NoError(t, rc.Store(ctx, r, enabledPolicy(), "", []byte("x")))
	get := httptest.NewRequest("GET", "/api/v1/congestion", nil)
	_, status = rc.Lookup(ctx, get, enabledPolicy())
	assert.Equal(t, StatusMiss, status)
}

func TestResponseCache_VaryBySplitsEntries(t *testing.T) {
	rc := newTestResponseCache(t)
	ctx := context.Background()
	policy := enabledPolicy()

	zone7 := httptest.NewRequest("GET", "/api/v1/congestion?zone=7", nil)
	require.NoError(t, rc.Store(ctx, zone7, policy, "application/json", []byte("seven")))

	zone8 := httptest.NewRequest("GET", "/api/v1/congestion?zone=8", nil)
	_, status := rc.Lookup(ctx, zone8, policy)
	assert.Equal(t, StatusMiss, status)

	cached, status := rc.Lookup(ctx, zone7, policy)
	require.Equal(t, StatusHit, status)
	assert.Equal(t, []byte("seven"), cached.Body)
}

func TestResponseCache_CompressionTransparent(t *testing.T) {
	rc := newTestResponseCache(t)
	ctx := context.Background()

	policy := enabledPolicy()
	policy.Compress = true

	body := make([]byte, 0, 4096)
	for i := 0; i < 256; i++ {
		body = append(body, []byte("congestion level nominal ")...)
	}

	r := httptest.NewRequest("GET", "/api/v1/congestion?zone=7", nil)
	require.NoError(t, rc.Store(ctx, r, policy, "application/json", body))

	cached, status := rc.Lookup(ctx, r, policy)
	require.Equal(t, StatusHit, status)
	assert.Equal(t, body, cached.Body)
}

func TestResponseCache_ExpiredReported(t *testing.T) {
	rc := newTestResponseCache(t)
	ctx := context.Background()
	policy := enabledPolicy()

	r := httptest.NewRequest("GET", "/api/v1/congestion?zone=7", nil)

	// Plant an entry whose logical expiry is already past while the
	// backend still holds it.
	key := Key(r, policy.VaryBy)
	entry := &Entry{
		Body:      []byte("stale"),
		ExpiresAt: time.Now().Add(-time.Second),
	}
	require.NoError(t, rc.backend.Set(ctx, key, encodeEntry(entry), time.Minute))
	rc.addKey(r.URL.Path, key)

	_, status := rc.Lookup(ctx, r, policy)
	assert.Equal(t, StatusExpired, status)

	// The lazy delete makes the next lookup a plain miss.
	_, status = rc.Lookup(ctx, r, policy)
	assert.Equal(t, StatusMiss, status)
}

func TestResponseCache_Invalidate(t *testing.T) {
	rc := newTestResponseCache(t)
	ctx := context.Background()
	policy := enabledPolicy()

	inc := httptest.NewRequest("GET", "/api/v1/incidents/123", nil)
	require.NoError(t, rc.Store(ctx, inc, policy, "application/json", []byte("i")))

	cong := httptest.NewRequest("GET", "/api/v1/congestion?zone=7", nil)
	require.NoError(t, rc.Store(ctx, cong, policy, "application/json", []byte("c")))

	removed := rc.Invalidate(ctx, []string{"/api/v1/incidents/*"})
	assert.Equal(t, 1, removed)

	_, status := rc.Lookup(ctx, inc, policy)
	assert.Equal(t, StatusMiss, status)

	// Unmatched paths survive.
	_, status = rc.Lookup(ctx, cong, policy)
	assert.Equal(t, StatusHit, status)
}

func TestResponseCache_InvalidateForWrite(t *testing.T) {
	rc := newTestResponseCache(t)
	ctx := context.Background()
	policy := enabledPolicy()

	inc := httptest.NewRequest("GET", "/api/v1/incidents/123", nil)
	require.NoError(t, rc.Store(ctx, inc, policy, "application/json", []byte("i")))

	cong := httptest.NewRequest("GET", "/api/v1/congestion/zones", nil)
	require.NoError(t, rc.Store(ctx, cong, policy, "application/json", []byte("c")))

	removed := rc.InvalidateForWrite(ctx, "POST", "/api/v1/incidents/456")
	assert.Equal(t, 2, removed)

	_, status := rc.Lookup(ctx, inc, policy)
	assert.Equal(t, StatusMiss, status)
	_, status = rc.Lookup(ctx, cong, policy)
	assert.Equal(t, StatusMiss, status)

	// A method without a rule removes nothing.
	removed = rc.InvalidateForWrite(ctx, "PATCH", "/api/v1/incidents/456")
	assert.Equal(t, 0, removed)
}

func TestGlobMatch(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/api/v1/incidents/*", "/api/v1/incidents/123", true},
		{"/api/v1/incidents/*", "/api/v1/incidents/123/notes", true},
		{"/api/v1/incidents/*", "/api/v1/incidents", true},
		{"/api/v1/incidents/*", "/api/v1/congestion", false},
		{"/api/v1/congestion", "/api/v1/congestion", true},
		{"/api/v1/congestion", "/api/v1/congestion/z", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, globMatch(tt.pattern, tt.path),
			"pattern %s path %s", tt.pattern, tt.path)
	}
}
