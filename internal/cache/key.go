package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"sort"
	"strings"
)

// Vary-by factor prefixes understood in a route's cache vary_by list.
// "query:page" varies on the page query parameter, "header:Accept" on
// the Accept header, and "body" on a hash of the request body.
// Factors not listed are excluded from the key to maximize hit rate.
const (
	varyQueryPrefix  = "query:"
	varyHeaderPrefix = "header:"
	varyBody         = "body"
)

// Key derives the deterministic cache key for a request: a SHA-256
// hash over the method, path, and the vary-by-selected request
// factors. Identical requests always map to the same key.
func Key(r *http.Request, varyBy []string) string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte('\n')
	b.WriteString(r.URL.Path)

	// Sort so key derivation is independent of configuration order.
	factors := make([]string, len(varyBy))
	copy(factors, varyBy)
	sort.Strings(factors)

	for _, factor := range factors {
		switch {
		case strings.HasPrefix(factor, varyQueryPrefix):
			name := strings.TrimPrefix(factor, varyQueryPrefix)
			values := r.URL.Query()[name]
			for _, v := range values {
				b.WriteByte('\n')
				b.WriteString("q:" + name + "=" + v)
			}
		case strings.HasPrefix(factor, varyHeaderPrefix):
			name := strings.TrimPrefix(factor, varyHeaderPrefix)
			for _, v := range r.Header.Values(name) {
				b.WriteByte('\n')
				b.WriteString("h:" + strings.ToLower(name) + "=" + v)
			}
		case factor == varyBody:
			if hash := hashBody(r); hash != "" {
				b.WriteByte('\n')
				b.WriteString("b:" + hash)
			}
		}
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// hashBody computes a short hash of the request body, restoring the
// body for downstream reads.
func hashBody(r *http.Request) string {
	if r.Body == nil {
		return ""
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r.Body); err != nil {
		return ""
	}

	r.Body = io.NopCloser(bytes.NewReader(buf.Bytes()))

	if buf.Len() == 0 {
		return ""
	}

	hash := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(hash[:8])
}
