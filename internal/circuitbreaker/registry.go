package circuitbreaker

import (
	"sync"
	"time"

	"github.com/urbansense/trafficgw/internal/config"
	"github.com/urbansense/trafficgw/internal/observability"
)

// Registry holds one circuit breaker per backend, created lazily on
// first use. Per-backend overrides from the configuration take
// precedence over the global thresholds.
type Registry struct {
	defaults  Settings
	overrides map[string]Settings
	enabled   bool
	logger    observability.Logger

	breakers sync.Map // backend name -> *CircuitBreaker
}

// NewRegistry creates a registry from the circuit breaker configuration.
func NewRegistry(cfg *config.CircuitBreakerConfig, logger observability.Logger) *Registry {
	if logger == nil {
		logger = observability.NopLogger()
	}

	defaults := DefaultSettings()
	enabled := false
	overrides := make(map[string]Settings)

	if cfg != nil {
		enabled = cfg.Enabled
		defaults = Settings{
			FailureThreshold: cfg.FailureThreshold,
			RecoveryTimeout:  cfg.RecoveryTimeout.Duration(),
			HalfOpenRequests: cfg.HalfOpenRequests,
		}.normalize()

		for _, b := range cfg.Backends {
			s := defaults
			if b.FailureThreshold > 0 {
				s.FailureThreshold = b.FailureThreshold
			}
			if d := b.RecoveryTimeout.Duration(); d > 0 {
				s.RecoveryTimeout = d
			}
			if b.HalfOpenRequests > 0 {
				s.HalfOpenRequests = b.HalfOpenRequests
			}
			overrides[b.Backend] = s
		}
	}

	return &Registry{
		defaults:  defaults,
		overrides: overrides,
		enabled:   enabled,
		logger:    logger,
	}
}

// Enabled reports whether circuit breaking is active at all.
func (r *Registry) Enabled() bool {
	return r.enabled
}

// Get returns the breaker for the backend, creating it on first use.
func (r *Registry) Get(backend string) *CircuitBreaker {
	if cb, ok := r.breakers.Load(backend); ok {
		return cb.(*CircuitBreaker)
	}

	settings, ok := r.overrides[backend]
	if !ok {
		settings = r.defaults
	}

	created := New(backend, settings, WithBreakerLogger(r.logger))
	actual, _ := r.breakers.LoadOrStore(backend, created)
	return actual.(*CircuitBreaker)
}

// BackendStatus describes one breaker for the status endpoint.
type BackendStatus struct {
	State           string    `json:"state"`
	FailureCount    int       `json:"failure_count"`
	LastFailureTime time.Time `json:"last_failure_time,omitempty"`
}

// States returns a snapshot of every breaker created so far.
func (r *Registry) States() map[string]BackendStatus {
	out := make(map[string]BackendStatus)
	r.breakers.Range(func(key, value any) bool {
		cb := value.(*CircuitBreaker)
		stats := cb.Stats()
		out[key.(string)] = BackendStatus{
			State:           stats.State.String(),
			FailureCount:    stats.FailureCount,
			LastFailureTime: stats.LastFailureTime,
		}
		return true
	})
	return out
}

// ResetAll closes every breaker. For tests and administrative use.
func (r *Registry) ResetAll() {
	r.breakers.Range(func(_, value any) bool {
		value.(*CircuitBreaker).Reset()
		return true
	})
}
