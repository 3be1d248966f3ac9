// Package ratelimit provides token-bucket rate limiting keyed by
// request principal, with per-endpoint limit overrides.
package ratelimit

import (
	"path"
	"strings"
	"time"

	"github.com/urbansense/trafficgw/internal/config"
)

// Result represents the outcome of a rate limit check.
type Result struct {
	// Allowed indicates whether the request may proceed.
	Allowed bool

	// Limit is the applicable limit in requests per minute.
	Limit int

	// Remaining is the number of requests left in the bucket.
	Remaining int

	// Reset is the epoch second at which the limit resets. When the
	// request is allowed this is a fixed-window hint; when denied it
	// estimates when one token becomes available.
	Reset int64

	// RetryAfter is the wait before retrying (denied requests only).
	RetryAfter time.Duration
}

// endpointLimit is a compiled per-endpoint override.
type endpointLimit struct {
	method  string
	pattern string
	limit   int
}

// matches reports whether the override applies to the request. The
// path pattern is a glob; a pattern without meta characters matches
// exactly. Method "*" or empty matches every method.
func (e *endpointLimit) matches(method, reqPath string) bool {
	if e.method != "" && e.method != "*" && !strings.EqualFold(e.method, method) {
		return false
	}
	if ok, err := path.Match(e.pattern, reqPath); err == nil && ok {
		return true
	}
	return e.pattern == reqPath
}

// compileEndpointLimits converts config overrides into matchers,
// preserving order: the first matching override wins.
func compileEndpointLimits(configs []config.EndpointLimitConfig) []endpointLimit {
	limits := make([]endpointLimit, 0, len(configs))
	for _, c := range configs {
		limits = append(limits, endpointLimit{
			method:  strings.ToUpper(c.Method),
			pattern: c.Path,
			limit:   c.Limit,
		})
	}
	return limits
}
