// Package auth provides API key and JWT authentication for the gateway.
package auth

import "github.com/urbansense/trafficgw/internal/config"

// Identity is the result of authenticating a request.
type Identity struct {
	// Authenticated indicates whether any configured method succeeded.
	Authenticated bool

	// APIKey is the matched key when API key authentication succeeded.
	APIKey *config.APIKeyConfig

	// JWTClaims holds the verified token claims when JWT authentication
	// succeeded.
	JWTClaims map[string]interface{}
}

// Anonymous returns an unauthenticated identity.
func Anonymous() Identity {
	return Identity{}
}

// Principal returns the rate-limit principal for this identity: the
// API key value when present, otherwise the empty string (callers fall
// back to the client address).
func (i Identity) Principal() string {
	if i.APIKey != nil {
		return "key:" + i.APIKey.Key
	}
	if i.Authenticated {
		if sub, ok := i.JWTClaims["sub"].(string); ok && sub != "" {
			return "sub:" + sub
		}
	}
	return ""
}

// RateLimit returns the per-principal rate limit override, or 0 when
// the default applies.
func (i Identity) RateLimit() int {
	if i.APIKey != nil {
		return i.APIKey.RateLimit
	}
	return 0
}

// Owner returns a loggable name for the identity. Never the key value.
func (i Identity) Owner() string {
	if i.APIKey != nil {
		return i.APIKey.Owner
	}
	if sub, ok := i.JWTClaims["sub"].(string); ok {
		return sub
	}
	return ""
}
