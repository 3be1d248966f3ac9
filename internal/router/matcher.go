// Package router provides route matching for the traffic gateway.
package router

import (
	"regexp"
	"strings"

	"github.com/urbansense/trafficgw/internal/config"
)

// PathMatcher is the interface for path matching.
type PathMatcher interface {
	// Match reports whether the request path matches.
	Match(path string) bool

	// Type returns the matcher type.
	Type() string

	// Pattern returns the configured pattern.
	Pattern() string
}

// ExactMatcher matches exact paths.
type ExactMatcher struct {
	path string
}

// NewExactMatcher creates a new exact path matcher.
func NewExactMatcher(path string) *ExactMatcher {
	return &ExactMatcher{path: path}
}

// Match checks if the path matches exactly.
func (m *ExactMatcher) Match(path string) bool {
	return path == m.path
}

// Type returns the matcher type.
func (m *ExactMatcher) Type() string { return config.PathTypeExact }

// Pattern returns the pattern.
func (m *ExactMatcher) Pattern() string { return m.path }

// PrefixMatcher matches any path sharing a fixed leading segment.
// A trailing "/*" or "*" in the configured pattern is stripped to
// obtain the fixed prefix.
type PrefixMatcher struct {
	pattern string
	prefix  string
}

// NewPrefixMatcher creates a new prefix path matcher.
func NewPrefixMatcher(pattern string) *PrefixMatcher {
	prefix := pattern
	switch {
	case strings.HasSuffix(prefix, "/*"):
		prefix = prefix[:len(prefix)-2]
	case strings.HasSuffix(prefix, "*"):
		prefix = prefix[:len(prefix)-1]
	}
	return &PrefixMatcher{pattern: pattern, prefix: prefix}
}

// Match checks if the path starts with the fixed prefix at a path boundary.
func (m *PrefixMatcher) Match(path string) bool {
	if !strings.HasPrefix(path, m.prefix) {
		return false
	}
	if len(path) == len(m.prefix) {
		return true
	}
	return strings.HasSuffix(m.prefix, "/") || path[len(m.prefix)] == '/'
}

// Type returns the matcher type.
func (m *PrefixMatcher) Type() string { return config.PathTypePrefix }

// Pattern returns the pattern.
func (m *PrefixMatcher) Pattern() string { return m.pattern }

// Prefix returns the fixed prefix without the wildcard suffix.
func (m *PrefixMatcher) Prefix() string { return m.prefix }

// StripPrefix removes the fixed prefix from the path, returning the
// remainder for backend URL construction.
func (m *PrefixMatcher) StripPrefix(path string) string {
	return strings.TrimPrefix(path, m.prefix)
}

// RegexMatcher matches paths against a full-path regular expression.
type RegexMatcher struct {
	pattern string
	regex   *regexp.Regexp
}

// NewRegexMatcher creates a new regex path matcher. The pattern is
// anchored so it must match the whole path.
func NewRegexMatcher(pattern string) (*RegexMatcher, error) {
	anchored := pattern
	if !strings.HasPrefix(anchored, "^") {
		anchored = "^" + anchored
	}
	if !strings.HasSuffix(anchored, "$") {
		anchored += "$"
	}
	regex, err := regexp.Compile(anchored)
	if err != nil {
		return nil, err
	}
	return &RegexMatcher{pattern: pattern, regex: regex}, nil
}

// Match checks if the path matches the regex.
func (m *RegexMatcher) Match(path string) bool {
	return m.regex.MatchString(path)
}

// Type returns the matcher type.
func (m *RegexMatcher) Type() string { return config.PathTypeRegex }

// Pattern returns the pattern.
func (m *RegexMatcher) Pattern() string { return m.pattern }

// newMatcher creates the matcher for a route config.
func newMatcher(rc *config.RouteConfig) (PathMatcher, error) {
	switch rc.PathType {
	case config.PathTypePrefix:
		return NewPrefixMatcher(rc.Path), nil
	case config.PathTypeRegex:
		return NewRegexMatcher(rc.Path)
	default:
		return NewExactMatcher(rc.Path), nil
	}
}
