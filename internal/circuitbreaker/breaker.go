// Package circuitbreaker implements per-backend failure isolation for
// the gateway's proxy calls.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/urbansense/trafficgw/internal/observability"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and calls proceed.
	StateClosed State = iota

	// StateOpen indicates the circuit is open and calls fail fast.
	StateOpen

	// StateHalfOpen indicates the breaker is probing for recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Settings configure a circuit breaker.
type Settings struct {
	// FailureThreshold is the number of consecutive failures that
	// opens the circuit from closed.
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before the
	// next call attempt transitions it to half-open. The check is
	// lazy: no timer fires, the elapsed time is evaluated on use.
	RecoveryTimeout time.Duration

	// HalfOpenRequests is the number of consecutive successes in
	// half-open needed to close the circuit.
	HalfOpenRequests int
}

// DefaultSettings returns settings with default values.
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenRequests: 2,
	}
}

// normalize fills missing values with defaults.
func (s Settings) normalize() Settings {
	def := DefaultSettings()
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = def.FailureThreshold
	}
	if s.RecoveryTimeout <= 0 {
		s.RecoveryTimeout = def.RecoveryTimeout
	}
	if s.HalfOpenRequests <= 0 {
		s.HalfOpenRequests = def.HalfOpenRequests
	}
	return s
}

// CircuitBreaker tracks failures for a single backend. All state
// transitions happen under one mutex so concurrent calls observe a
// linearizable state machine: no lost failure increments, no double
// close.
type CircuitBreaker struct {
	name     string
	settings Settings
	logger   observability.Logger
	now      func() time.Time

	mu                sync.Mutex
	state             State
	failureCount      int
	halfOpenSuccesses int
	lastFailureTime   time.Time
}

// BreakerOption is a functional option for a circuit breaker.
type BreakerOption func(*CircuitBreaker)

// WithBreakerLogger sets the logger.
func WithBreakerLogger(logger observability.Logger) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.logger = logger
	}
}

// WithBreakerClock sets the clock. For tests.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.now = now
	}
}

// New creates a circuit breaker for the named backend.
func New(name string, settings Settings, opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:     name,
		settings: settings.normalize(),
		logger:   observability.NopLogger(),
		now:      time.Now,
		state:    StateClosed,
	}

	for _, opt := range opts {
		opt(cb)
	}

	return cb
}

// Call executes fn under breaker protection. When the circuit is open
// and the recovery timeout has not elapsed, fn is not invoked and
// ErrCircuitOpen is returned immediately.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if !cb.allow() {
		getBreakerMetrics().rejectionsTotal.WithLabelValues(cb.name).Inc()
		return ErrCircuitOpen
	}

	err := fn(ctx)

	if err != nil {
		cb.recordFailure()
	} else {
		cb.recordSuccess()
	}

	return err
}

// allow decides whether a call may proceed, performing the lazy
// open→half-open transition.
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) >= cb.settings.RecoveryTimeout {
			cb.transitionTo(StateHalfOpen)
			return true
		}
		return false
	default:
		return false
	}
}

// recordSuccess updates state after a successful call.
func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.settings.HalfOpenRequests {
			cb.transitionTo(StateClosed)
		}
	}
}

// recordFailure updates state after a failed call.
func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = cb.now()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.settings.FailureThreshold {
			cb.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		// First failure while probing reopens the circuit.
		cb.transitionTo(StateOpen)
	}
}

// transitionTo moves the breaker to a new state. Must be called with
// the mutex held.
func (cb *CircuitBreaker) transitionTo(newState State) {
	oldState := cb.state
	if oldState == newState {
		return
	}
	cb.state = newState

	switch newState {
	case StateClosed:
		cb.failureCount = 0
		cb.halfOpenSuccesses = 0
	case StateHalfOpen:
		cb.halfOpenSuccesses = 0
	}

	getBreakerMetrics().stateChangesTotal.WithLabelValues(
		cb.name, oldState.String(), newState.String(),
	).Inc()

	cb.logger.Info("circuit breaker state changed",
		observability.String("backend", cb.name),
		observability.String("from", oldState.String()),
		observability.String("to", newState.String()),
	)
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns a snapshot of the breaker counters.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		State:             cb.state,
		FailureCount:      cb.failureCount,
		HalfOpenSuccesses: cb.halfOpenSuccesses,
		LastFailureTime:   cb.lastFailureTime,
	}
}

// Reset forces the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failureCount = 0
	cb.halfOpenSuccesses = 0
}

// Name returns the backend name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Stats holds a circuit breaker counter snapshot.
type Stats struct {
	State             State
	FailureCount      int
	HalfOpenSuccesses int
	LastFailureTime   time.Time
}
