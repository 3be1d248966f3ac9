package auth

import (
	"net/http"

	"github.com/urbansense/trafficgw/internal/config"
	"github.com/urbansense/trafficgw/internal/observability"
)

// Authenticator validates API keys and JWTs, independent of routing.
// API key lookup takes precedence; JWT is only consulted when no key
// matched. Authentication failures never propagate as errors past this
// boundary: the result is simply an unauthenticated identity.
type Authenticator struct {
	keys   *KeyTable
	jwt    *JWTValidator
	logger observability.Logger
}

// AuthenticatorOption is a functional option for the authenticator.
type AuthenticatorOption func(*Authenticator)

// WithLogger sets the logger for the authenticator.
func WithLogger(logger observability.Logger) AuthenticatorOption {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// NewAuthenticator builds an authenticator from the configured methods.
func NewAuthenticator(cfg *config.AuthenticationConfig, opts ...AuthenticatorOption) (*Authenticator, error) {
	a := &Authenticator{
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(a)
	}

	for i := range cfg.Methods {
		m := &cfg.Methods[i]
		switch m.Type {
		case config.AuthMethodAPIKey:
			a.keys = NewKeyTable(m)
		case config.AuthMethodJWT:
			validator, err := NewJWTValidator(m)
			if err != nil {
				return nil, err
			}
			a.jwt = validator
		}
	}

	return a, nil
}

// Enabled reports whether any authentication method is configured.
func (a *Authenticator) Enabled() bool {
	return a.keys != nil || a.jwt != nil
}

// Authenticate resolves the request identity from its headers.
func (a *Authenticator) Authenticate(headers http.Header) Identity {
	if a.keys != nil {
		if key, ok := a.keys.Lookup(a.keys.Extract(headers)); ok {
			return Identity{Authenticated: true, APIKey: key}
		}
	}

	if a.jwt != nil {
		raw := a.jwt.ExtractToken(headers.Get(a.jwt.HeaderName()))
		if raw != "" {
			claims, err := a.jwt.Validate(raw)
			if err != nil {
				a.logger.Debug("jwt validation failed",
					observability.Error(err),
				)
				return Anonymous()
			}
			return Identity{Authenticated: true, JWTClaims: claims}
		}
	}

	return Anonymous()
}
