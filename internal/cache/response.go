package cache

import (
	"context"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/urbansense/trafficgw/internal/config"
	"github.com/urbansense/trafficgw/internal/observability"
)

// expiredRetention keeps expired entries in the backend briefly past
// their logical expiry so lookups can report EXPIRED instead of MISS.
// After the retention window the backend TTL removes them for good.
const expiredRetention = time.Minute

// ResponseCache applies the route and global cache policies on top of
// a storage backend: key derivation, TTL clamping, compression, lazy
// expiry, and glob invalidation over a tracked path→key index.
//
// The index is per-instance; with a Redis backend each gateway
// instance invalidates the keys it has seen.
type ResponseCache struct {
	backend    Cache
	cfg        *config.CachingConfig
	compressor *compressor
	logger     observability.Logger

	mu    sync.Mutex
	index map[string]map[string]struct{}

	rules []config.InvalidationRule
}

// NewResponseCache creates the policy layer over a backend.
func NewResponseCache(backend Cache, cfg *config.CachingConfig, logger observability.Logger) *ResponseCache {
	if logger == nil {
		logger = observability.NopLogger()
	}

	var comp *compressor
	if cfg.Compression.Enabled {
		comp = newCompressor(cfg.Compression.MinSize, cfg.Compression.Level)
	}

	return &ResponseCache{
		backend:    backend,
		cfg:        cfg,
		compressor: comp,
		logger:     logger,
		index:      make(map[string]map[string]struct{}),
		rules:      cfg.Invalidation,
	}
}

// cacheable reports whether the request/policy combination is served
// from cache at all.
func (c *ResponseCache) cacheable(method string, policy *config.RouteCacheConfig) bool {
	if !c.cfg.Enabled || policy == nil || !policy.Enabled {
		return false
	}
	return method == http.MethodGet
}

// CachedResponse is a decoded, decompressed cache hit.
type CachedResponse struct {
	Body        []byte
	ContentType string
}

// Lookup attempts to serve the request from cache. The returned body
// is already decompressed. Statuses: HIT on success, BYPASS when the
// policy does not apply, EXPIRED when a stale entry was evicted
// lazily, MISS otherwise.
func (c *ResponseCache) Lookup(ctx context.Context, r *http.Request, policy *config.RouteCacheConfig) (*CachedResponse, Status) {
	if !c.cacheable(r.Method, policy) {
		return nil, c.counted(StatusBypass)
	}

	key := Key(r, policy.VaryBy)

	raw, err := c.backend.Get(ctx, key)
	if err != nil {
		return nil, c.counted(StatusMiss)
	}

	entry, err := decodeEntry(raw)
	if err != nil {
		c.logger.Warn("dropping undecodable cache entry",
			observability.String("key", key),
			observability.Error(err))
		_ = c.backend.Delete(ctx, key)
		return nil, c.counted(StatusMiss)
	}

	if entry.IsExpired(time.Now()) {
		_ = c.backend.Delete(ctx, key)
		c.removeKey(r.URL.Path, key)
		return nil, c.counted(StatusExpired)
	}

	body := entry.Body
	if entry.Compressed {
		decompressed, err := c.compressorOrDefault().Decompress(body)
		if err != nil {
			c.logger.Warn("dropping undecompressable cache entry",
				observability.String("key", key),
				observability.Error(err))
			_ = c.backend.Delete(ctx, key)
			return nil, c.counted(StatusMiss)
		}
		body = decompressed
	}

	return &CachedResponse{Body: body, ContentType: entry.ContentType}, c.counted(StatusHit)
}

// Store caches a successful response body under the request's key.
// No-op when the policy does not apply.
func (c *ResponseCache) Store(ctx context.Context, r *http.Request, policy *config.RouteCacheConfig, contentType string, body []byte) error {
	if !c.cacheable(r.Method, policy) {
		return nil
	}

	ttl := policy.TTL.Duration()
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL.Duration()
	}
	if maxTTL := c.cfg.MaxTTL.Duration(); maxTTL > 0 && ttl > maxTTL {
		ttl = maxTTL
	}

	stored := body
	compressed := false
	if c.compressor != nil && policy.Compress {
		stored, compressed = c.compressor.Compress(body)
	}

	entry := &Entry{
		Body:        stored,
		ContentType: contentType,
		Compressed:  compressed,
		ExpiresAt:   time.Now().Add(ttl),
	}

	key := Key(r, policy.VaryBy)
	if err := c.backend.Set(ctx, key, encodeEntry(entry), ttl+expiredRetention); err != nil {
		return err
	}

	c.addKey(r.URL.Path, key)
	return nil
}

// Invalidate removes all entries whose tracked request path matches
// any of the glob patterns. Returns the number of removed entries.
func (c *ResponseCache) Invalidate(ctx context.Context, patterns []string) int {
	type victim struct {
		path string
		key  string
	}
	var victims []victim

	c.mu.Lock()
	for trackedPath, keys := range c.index {
		if !matchesAny(patterns, trackedPath) {
			continue
		}
		for key := range keys {
			victims = append(victims, victim{path: trackedPath, key: key})
		}
		delete(c.index, trackedPath)
	}
	c.mu.Unlock()

	count := 0
	for _, v := range victims {
		if err := c.backend.Delete(ctx, v.key); err != nil {
			c.logger.Warn("cache invalidation delete failed",
				observability.String("path", v.path),
				observability.Error(err))
			continue
		}
		count++
	}

	if count > 0 {
		c.logger.Info("cache invalidated",
			observability.Strings("patterns", patterns),
			observability.Int("entries", count))
	}

	return count
}

// InvalidateForWrite applies the configured invalidation rules after
// a successful write-causing request. Returns the number of removed
// entries.
func (c *ResponseCache) InvalidateForWrite(ctx context.Context, method, reqPath string) int {
	var patterns []string
	for _, rule := range c.rules {
		if rule.Method != "*" && !strings.EqualFold(rule.Method, method) {
			continue
		}
		if !globMatch(rule.Pattern, reqPath) {
			continue
		}
		patterns = append(patterns, rule.InvalidatePatterns...)
	}

	if len(patterns) == 0 {
		return 0
	}
	return c.Invalidate(ctx, patterns)
}

// Close closes the underlying backend.
func (c *ResponseCache) Close() error {
	return c.backend.Close()
}

// counted records the lookup status metric and passes it through.
func (c *ResponseCache) counted(status Status) Status {
	GetCacheMetrics().lookupsTotal.WithLabelValues(string(status)).Inc()
	return status
}

func (c *ResponseCache) compressorOrDefault() *compressor {
	if c.compressor != nil {
		return c.compressor
	}
	// Entries written while compression was enabled must stay
	// readable after it is disabled.
	return newCompressor(1, 0)
}

// addKey tracks a path→key association for invalidation.
func (c *ResponseCache) addKey(reqPath, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, ok := c.index[reqPath]
	if !ok {
		keys = make(map[string]struct{})
		c.index[reqPath] = keys
	}
	keys[key] = struct{}{}
}

// removeKey drops a tracked association.
func (c *ResponseCache) removeKey(reqPath, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if keys, ok := c.index[reqPath]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.index, reqPath)
		}
	}
}

// matchesAny reports whether the path matches any glob pattern.
func matchesAny(patterns []string, reqPath string) bool {
	for _, pattern := range patterns {
		if globMatch(pattern, reqPath) {
			return true
		}
	}
	return false
}

// globMatch matches a path against a glob pattern, treating a
// trailing "/*" as matching any deeper path as well.
func globMatch(pattern, reqPath string) bool {
	if ok, err := path.Match(pattern, reqPath); err == nil && ok {
		return true
	}
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		if reqPath == prefix || strings.HasPrefix(reqPath, prefix+"/") {
			return true
		}
	}
	return pattern == reqPath
}
