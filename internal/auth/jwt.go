package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/urbansense/trafficgw/internal/config"
)

// JWT validation errors.
var (
	ErrTokenMissing     = errors.New("token missing")
	ErrTokenMalformed   = errors.New("token malformed")
	ErrTokenSignature   = errors.New("token signature invalid")
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenNotYetValid = errors.New("token not yet valid")
	ErrTokenIssuedAt    = errors.New("token issued in the future")
	ErrInvalidIssuer    = errors.New("invalid issuer")
	ErrInvalidAudience  = errors.New("invalid audience")
)

// defaultClockSkew is the allowed clock skew for time-based claims.
const defaultClockSkew = 30 * time.Second

// JWTValidator verifies JWT tokens against a shared-secret HMAC key.
type JWTValidator struct {
	secret      []byte
	algorithm   jwa.SignatureAlgorithm
	issuer      string
	audience    string
	tokenHeader string
	tokenPrefix string
	verifyExp   bool
	verifyNbf   bool
	verifyIat   bool
	clockSkew   time.Duration
}

// NewJWTValidator creates a validator from the jwt method configuration.
func NewJWTValidator(cfg *config.AuthMethodConfig) (*JWTValidator, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("jwt: secret is required")
	}

	alg, err := signatureAlgorithm(cfg.Algorithm)
	if err != nil {
		return nil, err
	}

	header := cfg.TokenHeader
	if header == "" {
		header = "Authorization"
	}
	prefix := cfg.TokenPrefix
	if prefix == "" {
		prefix = "Bearer "
	}

	return &JWTValidator{
		secret:      []byte(cfg.Secret),
		algorithm:   alg,
		issuer:      cfg.Issuer,
		audience:    cfg.Audience,
		tokenHeader: header,
		tokenPrefix: prefix,
		verifyExp:   boolFlag(cfg.VerifyExp, true),
		verifyNbf:   boolFlag(cfg.VerifyNbf, true),
		verifyIat:   boolFlag(cfg.VerifyIat, false),
		clockSkew:   defaultClockSkew,
	}, nil
}

// signatureAlgorithm maps the configured algorithm name onto a jwx
// algorithm. Only the HMAC family is supported since configuration
// carries a shared secret, not key material.
func signatureAlgorithm(name string) (jwa.SignatureAlgorithm, error) {
	switch strings.ToUpper(name) {
	case "", "HS256":
		return jwa.HS256, nil
	case "HS384":
		return jwa.HS384, nil
	case "HS512":
		return jwa.HS512, nil
	default:
		return "", fmt.Errorf("jwt: unsupported algorithm %q", name)
	}
}

func boolFlag(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// HeaderName returns the configured token header name.
func (v *JWTValidator) HeaderName() string {
	return v.tokenHeader
}

// ExtractToken pulls the raw token out of a header value, checking the
// configured prefix. Returns "" when the header does not carry a token.
func (v *JWTValidator) ExtractToken(headerValue string) string {
	if headerValue == "" {
		return ""
	}
	if !strings.HasPrefix(headerValue, v.tokenPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(headerValue, v.tokenPrefix))
}

// Validate verifies the token signature and claims, returning the
// claims map on success.
func (v *JWTValidator) Validate(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return nil, ErrTokenMissing
	}

	// Signature verification only; claim validation follows the
	// configured flags below.
	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKey(v.algorithm, v.secret),
		jwt.WithValidate(false),
	)
	if err != nil {
		if strings.Contains(err.Error(), "verify") || strings.Contains(err.Error(), "signature") {
			return nil, fmt.Errorf("%w: %v", ErrTokenSignature, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	if err := v.validateClaims(tok); err != nil {
		return nil, err
	}

	return claimsMap(tok), nil
}

// validateClaims applies the configured time, issuer, and audience checks.
func (v *JWTValidator) validateClaims(tok jwt.Token) error {
	now := time.Now()

	if v.verifyExp {
		if exp := tok.Expiration(); !exp.IsZero() && now.After(exp.Add(v.clockSkew)) {
			return ErrTokenExpired
		}
	}

	if v.verifyNbf {
		if nbf := tok.NotBefore(); !nbf.IsZero() && now.Add(v.clockSkew).Before(nbf) {
			return ErrTokenNotYetValid
		}
	}

	if v.verifyIat {
		if iat := tok.IssuedAt(); !iat.IsZero() && now.Add(v.clockSkew).Before(iat) {
			return ErrTokenIssuedAt
		}
	}

	if v.issuer != "" && tok.Issuer() != v.issuer {
		return ErrInvalidIssuer
	}

	if v.audience != "" {
		found := false
		for _, aud := range tok.Audience() {
			if aud == v.audience {
				found = true
				break
			}
		}
		if !found {
			return ErrInvalidAudience
		}
	}

	return nil
}

// claimsMap flattens standard and private claims into one map.
func claimsMap(tok jwt.Token) map[string]interface{} {
	claims := make(map[string]interface{})
	for name, value := range tok.PrivateClaims() {
		claims[name] = value
	}
	if iss := tok.Issuer(); iss != "" {
		claims["iss"] = iss
	}
	if sub := tok.Subject(); sub != "" {
		claims["sub"] = sub
	}
	if aud := tok.Audience(); len(aud) > 0 {
		claims["aud"] = aud
	}
	if exp := tok.Expiration(); !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}
	if nbf := tok.NotBefore(); !nbf.IsZero() {
		claims["nbf"] = nbf.Unix()
	}
	if iat := tok.IssuedAt(); !iat.IsZero() {
		claims["iat"] = iat.Unix()
	}
	if jti := tok.JwtID(); jti != "" {
		claims["jti"] = jti
	}
	return claims
}
