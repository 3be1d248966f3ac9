// Package config provides configuration management for the traffic gateway.
package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Config is the root gateway configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Authentication AuthenticationConfig `yaml:"authentication"`
	RateLimiting   RateLimitConfig      `yaml:"rate_limiting"`
	Routes         []RouteConfig        `yaml:"routes"`
	CORS           CORSConfig           `yaml:"cors"`
	Caching        CachingConfig        `yaml:"caching"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Redis          RedisConfig          `yaml:"redis"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Address returns the host:port listen address.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AuthenticationConfig holds the configured auth methods.
type AuthenticationConfig struct {
	Methods []AuthMethodConfig `yaml:"methods"`
}

// Auth method types.
const (
	AuthMethodAPIKey = "api_key"
	AuthMethodJWT    = "jwt"
)

// AuthMethodConfig describes a single authentication method. The Type
// field selects which of the remaining fields are meaningful.
type AuthMethodConfig struct {
	Type string `yaml:"type"`

	// API key fields.
	Header string         `yaml:"header"`
	Keys   []APIKeyConfig `yaml:"keys"`

	// JWT fields.
	Secret      string   `yaml:"secret"`
	Algorithm   string   `yaml:"algorithm"`
	Issuer      string   `yaml:"issuer"`
	Audience    string   `yaml:"audience"`
	TokenHeader string   `yaml:"token_header"`
	TokenPrefix string   `yaml:"token_prefix"`
	Expiration  Duration `yaml:"expiration"`
	VerifyExp   *bool    `yaml:"verify_exp"`
	VerifyNbf   *bool    `yaml:"verify_nbf"`
	VerifyIat   *bool    `yaml:"verify_iat"`
}

// APIKeyConfig describes a single API key. Immutable once loaded.
type APIKeyConfig struct {
	Key       string `yaml:"key"`
	Owner     string `yaml:"owner"`
	RateLimit int    `yaml:"rate_limit"`
	Enabled   bool   `yaml:"enabled"`
}

// RateLimitConfig holds rate limiting settings. Limits are expressed
// as requests per minute.
type RateLimitConfig struct {
	Enabled        bool                  `yaml:"enabled"`
	DefaultLimit   int                   `yaml:"default_limit"`
	BurstSize      int                   `yaml:"burst_size"`
	Storage        string                `yaml:"storage"`
	EndpointLimits []EndpointLimitConfig `yaml:"endpoint_limits"`
}

// EndpointLimitConfig overrides the default limit for requests whose
// method and path match the configured patterns.
type EndpointLimitConfig struct {
	Method string `yaml:"method"`
	Path   string `yaml:"path"`
	Limit  int    `yaml:"limit"`
}

// Route path pattern types.
const (
	PathTypeExact  = "exact"
	PathTypePrefix = "prefix"
	PathTypeRegex  = "regex"
)

// RouteConfig describes a single proxied route. Routes are evaluated
// in list order; the first match wins.
type RouteConfig struct {
	Name          string            `yaml:"name"`
	Path          string            `yaml:"path"`
	PathType      string            `yaml:"path_type"`
	Backend       string            `yaml:"backend"`
	Methods       []string          `yaml:"methods"`
	AuthRequired  bool              `yaml:"auth_required"`
	Timeout       Duration          `yaml:"timeout"`
	Retry         RetryConfig       `yaml:"retry"`
	Cache         RouteCacheConfig  `yaml:"cache"`
	StaticHeaders map[string]string `yaml:"static_headers"`
}

// RetryConfig holds the per-route retry policy.
type RetryConfig struct {
	Enabled       bool    `yaml:"enabled"`
	MaxAttempts   int     `yaml:"max_attempts"`
	BackoffFactor float64 `yaml:"backoff_factor"`
}

// RouteCacheConfig holds the per-route response cache policy.
type RouteCacheConfig struct {
	Enabled  bool     `yaml:"enabled"`
	TTL      Duration `yaml:"ttl"`
	VaryBy   []string `yaml:"vary_by"`
	Compress bool     `yaml:"compress"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	Enabled          bool     `yaml:"enabled"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	MaxAge           int      `yaml:"max_age"`
}

// CachingConfig holds the global response cache settings.
type CachingConfig struct {
	Enabled      bool               `yaml:"enabled"`
	DefaultTTL   Duration           `yaml:"default_ttl"`
	MaxTTL       Duration           `yaml:"max_ttl"`
	MaxEntries   int                `yaml:"max_entries"`
	Storage      string             `yaml:"storage"`
	Compression  CompressionConfig  `yaml:"compression"`
	Invalidation []InvalidationRule `yaml:"invalidation"`
}

// CompressionConfig controls compression of cached bodies.
type CompressionConfig struct {
	Enabled   bool   `yaml:"enabled"`
	MinSize   int    `yaml:"min_size"`
	Algorithm string `yaml:"algorithm"`
	Level     int    `yaml:"level"`
}

// InvalidationRule maps a write-causing request onto cache paths to drop.
type InvalidationRule struct {
	Method             string   `yaml:"method"`
	Pattern            string   `yaml:"pattern"`
	InvalidatePatterns []string `yaml:"invalidate_patterns"`
}

// CircuitBreakerConfig holds circuit breaker settings.
type CircuitBreakerConfig struct {
	Enabled          bool                   `yaml:"enabled"`
	FailureThreshold int                    `yaml:"failure_threshold"`
	RecoveryTimeout  Duration               `yaml:"recovery_timeout"`
	HalfOpenRequests int                    `yaml:"half_open_requests"`
	Backends         []BackendBreakerConfig `yaml:"backends"`
}

// BackendBreakerConfig overrides breaker settings for one backend.
type BackendBreakerConfig struct {
	Backend          string   `yaml:"backend"`
	FailureThreshold int      `yaml:"failure_threshold"`
	RecoveryTimeout  Duration `yaml:"recovery_timeout"`
	HalfOpenRequests int      `yaml:"half_open_requests"`
}

// RedisConfig holds the connection settings for the optional external store.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Storage backend names.
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		RateLimiting: RateLimitConfig{
			Enabled:      true,
			DefaultLimit: 60,
			BurstSize:    10,
			Storage:      StorageMemory,
		},
		CORS: CORSConfig{
			Enabled:        true,
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
			AllowedHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
			MaxAge:         86400,
		},
		Caching: CachingConfig{
			Enabled:    true,
			DefaultTTL: Duration(60 * time.Second),
			MaxTTL:     Duration(10 * time.Minute),
			MaxEntries: 10000,
			Storage:    StorageMemory,
			Compression: CompressionConfig{
				Enabled:   true,
				MinSize:   1024,
				Algorithm: "gzip",
				Level:     6,
			},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			RecoveryTimeout:  Duration(30 * time.Second),
			HalfOpenRequests: 2,
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
		},
	}
}

// Validate checks the configuration and fills in defaults for
// unset optional values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server: invalid port %d", c.Server.Port)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if err := c.validateAuthentication(); err != nil {
		return err
	}
	if err := c.validateRateLimiting(); err != nil {
		return err
	}
	if err := c.validateRoutes(); err != nil {
		return err
	}
	if err := c.validateCaching(); err != nil {
		return err
	}
	return c.validateCircuitBreaker()
}

func (c *Config) validateAuthentication() error {
	for i := range c.Authentication.Methods {
		m := &c.Authentication.Methods[i]
		switch m.Type {
		case AuthMethodAPIKey:
			if m.Header == "" {
				m.Header = "X-API-Key"
			}
			for _, k := range m.Keys {
				if k.Key == "" {
					return fmt.Errorf("authentication: api_key entry with empty key")
				}
			}
		case AuthMethodJWT:
			if m.Secret == "" {
				return fmt.Errorf("authentication: jwt method requires a secret")
			}
			if m.Algorithm == "" {
				m.Algorithm = "HS256"
			}
			if m.TokenHeader == "" {
				m.TokenHeader = "Authorization"
			}
			if m.TokenPrefix == "" {
				m.TokenPrefix = "Bearer "
			}
		default:
			return fmt.Errorf("authentication: unknown method type %q", m.Type)
		}
	}
	return nil
}

func (c *Config) validateRateLimiting() error {
	rl := &c.RateLimiting
	if !rl.Enabled {
		return nil
	}
	if rl.DefaultLimit <= 0 {
		rl.DefaultLimit = 60
	}
	if rl.BurstSize < 0 {
		rl.BurstSize = 0
	}
	if rl.Storage == "" {
		rl.Storage = StorageMemory
	}
	if rl.Storage != StorageMemory && rl.Storage != StorageRedis {
		return fmt.Errorf("rate_limiting: unknown storage %q", rl.Storage)
	}
	for _, el := range rl.EndpointLimits {
		if el.Limit <= 0 {
			return fmt.Errorf("rate_limiting: endpoint limit for %s %s must be positive", el.Method, el.Path)
		}
	}
	return nil
}

func (c *Config) validateRoutes() error {
	names := make(map[string]bool, len(c.Routes))
	for i := range c.Routes {
		r := &c.Routes[i]
		if r.Name == "" {
			return fmt.Errorf("routes[%d]: name is required", i)
		}
		if names[r.Name] {
			return fmt.Errorf("routes: duplicate route name %q", r.Name)
		}
		names[r.Name] = true

		if r.Path == "" {
			return fmt.Errorf("route %q: path is required", r.Name)
		}
		if r.PathType == "" {
			r.PathType = PathTypeExact
		}
		switch r.PathType {
		case PathTypeExact, PathTypePrefix:
		case PathTypeRegex:
			if _, err := regexp.Compile(r.Path); err != nil {
				return fmt.Errorf("route %q: invalid regex path: %w", r.Name, err)
			}
		default:
			return fmt.Errorf("route %q: unknown path_type %q", r.Name, r.PathType)
		}

		if r.Backend == "" {
			return fmt.Errorf("route %q: backend is required", r.Name)
		}
		u, err := url.Parse(r.Backend)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("route %q: invalid backend URL %q", r.Name, r.Backend)
		}

		if len(r.Methods) == 0 {
			r.Methods = []string{"GET"}
		}
		for j, m := range r.Methods {
			r.Methods[j] = strings.ToUpper(m)
		}

		if r.Timeout <= 0 {
			r.Timeout = Duration(30 * time.Second)
		}
		if r.Retry.Enabled {
			if r.Retry.MaxAttempts <= 0 {
				r.Retry.MaxAttempts = 3
			}
			if r.Retry.BackoffFactor <= 0 {
				r.Retry.BackoffFactor = 2
			}
		}
		if r.Cache.Enabled && r.Cache.TTL <= 0 {
			r.Cache.TTL = c.Caching.DefaultTTL
		}
	}
	return nil
}

func (c *Config) validateCaching() error {
	ca := &c.Caching
	if !ca.Enabled {
		return nil
	}
	if ca.DefaultTTL <= 0 {
		ca.DefaultTTL = Duration(60 * time.Second)
	}
	if ca.MaxTTL <= 0 {
		ca.MaxTTL = Duration(10 * time.Minute)
	}
	if ca.MaxEntries <= 0 {
		ca.MaxEntries = 10000
	}
	if ca.Storage == "" {
		ca.Storage = StorageMemory
	}
	if ca.Storage != StorageMemory && ca.Storage != StorageRedis {
		return fmt.Errorf("caching: unknown storage %q", ca.Storage)
	}
	if ca.Compression.Enabled {
		if ca.Compression.MinSize <= 0 {
			ca.Compression.MinSize = 1024
		}
		if ca.Compression.Algorithm == "" {
			ca.Compression.Algorithm = "gzip"
		}
		if ca.Compression.Algorithm != "gzip" {
			return fmt.Errorf("caching: unsupported compression algorithm %q", ca.Compression.Algorithm)
		}
		if ca.Compression.Level < 1 || ca.Compression.Level > 9 {
			ca.Compression.Level = 6
		}
	}
	for _, rule := range ca.Invalidation {
		if rule.Method == "" || rule.Pattern == "" {
			return fmt.Errorf("caching: invalidation rule requires method and pattern")
		}
	}
	return nil
}

func (c *Config) validateCircuitBreaker() error {
	cb := &c.CircuitBreaker
	if !cb.Enabled {
		return nil
	}
	if cb.FailureThreshold <= 0 {
		cb.FailureThreshold = 5
	}
	if cb.RecoveryTimeout <= 0 {
		cb.RecoveryTimeout = Duration(30 * time.Second)
	}
	if cb.HalfOpenRequests <= 0 {
		cb.HalfOpenRequests = 2
	}
	for _, b := range cb.Backends {
		if b.Backend == "" {
			return fmt.Errorf("circuit_breaker: backend override requires a backend URL")
		}
	}
	return nil
}

// APIKeyMethod returns the configured API key method, or nil.
func (c *Config) APIKeyMethod() *AuthMethodConfig {
	for i := range c.Authentication.Methods {
		if c.Authentication.Methods[i].Type == AuthMethodAPIKey {
			return &c.Authentication.Methods[i]
		}
	}
	return nil
}

// JWTMethod returns the configured JWT method, or nil.
func (c *Config) JWTMethod() *AuthMethodConfig {
	for i := range c.Authentication.Methods {
		if c.Authentication.Methods[i].Type == AuthMethodJWT {
			return &c.Authentication.Methods[i]
		}
	}
	return nil
}
