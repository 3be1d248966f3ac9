package proxy

import (
	"errors"
	"fmt"
	"net/http"
)

// ForwardError wraps a backend failure with the gateway status code
// the client should receive.
type ForwardError struct {
	StatusCode int
	Backend    string
	Attempts   int
	Err        error
}

// Error implements the error interface.
func (e *ForwardError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("proxy: backend %s failed after %d attempt(s): %v", e.Backend, e.Attempts, e.Err)
	}
	return fmt.Sprintf("proxy: backend %s failed after %d attempt(s)", e.Backend, e.Attempts)
}

// Unwrap returns the underlying error.
func (e *ForwardError) Unwrap() error {
	return e.Err
}

// unavailableError builds the 503 variant.
func unavailableError(backend string, attempts int, err error) *ForwardError {
	return &ForwardError{
		StatusCode: http.StatusServiceUnavailable,
		Backend:    backend,
		Attempts:   attempts,
		Err:        err,
	}
}

// timeoutError builds the 504 variant.
func timeoutError(backend string, attempts int, err error) *ForwardError {
	return &ForwardError{
		StatusCode: http.StatusGatewayTimeout,
		Backend:    backend,
		Attempts:   attempts,
		Err:        err,
	}
}

// AsForwardError extracts a ForwardError from an error chain.
func AsForwardError(err error) (*ForwardError, bool) {
	var fe *ForwardError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
