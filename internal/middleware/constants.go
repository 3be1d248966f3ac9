package middleware

// Header names used across the middleware chain.
const (
	HeaderRequestID     = "X-Request-ID"
	HeaderXForwardedFor = "X-Forwarded-For"
)
