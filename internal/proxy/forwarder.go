// Package proxy forwards gateway requests to backend services over
// HTTP, with per-route timeouts and retry on transport failures.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/urbansense/trafficgw/internal/observability"
	"github.com/urbansense/trafficgw/internal/router"
)

// Response is a fully buffered backend response. Bodies are buffered
// so the gateway can cache them and retry safely.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Forwarder issues backend requests for matched routes.
type Forwarder struct {
	client *http.Client
	logger observability.Logger

	// sleep waits between retry attempts. Injected for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// ForwarderOption is a functional option for a Forwarder.
type ForwarderOption func(*Forwarder)

// WithClient sets the HTTP client used for backend calls.
func WithClient(client *http.Client) ForwarderOption {
	return func(f *Forwarder) {
		f.client = client
	}
}

// WithForwarderLogger sets the logger.
func WithForwarderLogger(logger observability.Logger) ForwarderOption {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// WithSleep overrides the retry backoff wait. For tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) ForwarderOption {
	return func(f *Forwarder) {
		f.sleep = sleep
	}
}

// NewForwarder creates a forwarder with a pooled transport.
func NewForwarder(opts ...ForwarderOption) *Forwarder {
	f := &Forwarder{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   32,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: time.Second,
			},
			// Redirects from backends pass through to the client.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: observability.NopLogger(),
		sleep:  sleepContext,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Forward sends the request to the route's backend and returns the
// buffered response. The route timeout bounds all attempts together.
// Transport failures are retried per the route's retry policy;
// backend HTTP error statuses are returned as-is, never retried.
func (f *Forwarder) Forward(ctx context.Context, r *http.Request, route *router.Route) (*Response, error) {
	cfg := route.Config

	timeout := cfg.Timeout.Duration()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	target, err := buildTargetURL(r, route)
	if err != nil {
		return nil, unavailableError(cfg.Backend, 0, err)
	}

	// Buffer the request body once so retries can resend it.
	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(r.Body)
		if err != nil {
			return nil, unavailableError(cfg.Backend, 0, err)
		}
	}

	attempts := 1
	if cfg.Retry.Enabled && cfg.Retry.MaxAttempts > 1 {
		attempts = cfg.Retry.MaxAttempts
	}

	metrics := getProxyMetrics()
	start := time.Now()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			metrics.retriesTotal.WithLabelValues(cfg.Backend).Inc()
			wait := backoff(cfg.Retry.BackoffFactor, attempt)
			if err := f.sleep(ctx, wait); err != nil {
				break
			}
		}

		resp, err := f.attempt(ctx, r, target, body, cfg.StaticHeaders)
		if err == nil {
			metrics.observe(cfg.Backend, "success", time.Since(start))
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		if !retryable(err) {
			break
		}

		f.logger.Warn("backend attempt failed",
			observability.String("backend", cfg.Backend),
			observability.Int("attempt", attempt+1),
			observability.Error(err),
		)
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(lastErr) {
		metrics.observe(cfg.Backend, "timeout", time.Since(start))
		return nil, timeoutError(cfg.Backend, attempts, lastErr)
	}

	metrics.observe(cfg.Backend, "error", time.Since(start))
	return nil, unavailableError(cfg.Backend, attempts, lastErr)
}

// attempt performs a single backend call and buffers the response.
func (f *Forwarder) attempt(ctx context.Context, r *http.Request, target string, body []byte, static map[string]string) (*Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, reader)
	if err != nil {
		return nil, err
	}

	copyProxyHeaders(req, r)
	for name, value := range static {
		req.Header.Set(name, value)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	header := make(http.Header, len(resp.Header))
	for name, values := range resp.Header {
		if isHopByHop(name) {
			continue
		}
		header[name] = values
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       respBody,
	}, nil
}

// buildTargetURL resolves the backend URL for a request. Prefix
// routes append the remainder after the matched prefix to the backend
// base path; exact and regex routes call the backend base URL as
// configured, carrying only the query string.
func buildTargetURL(r *http.Request, route *router.Route) (string, error) {
	base, err := url.Parse(route.Config.Backend)
	if err != nil {
		return "", err
	}

	target := *base
	if pm, ok := route.Matcher.(*router.PrefixMatcher); ok {
		remainder := pm.StripPrefix(r.URL.Path)
		if remainder != "" && !strings.HasPrefix(remainder, "/") {
			remainder = "/" + remainder
		}
		target.Path = strings.TrimSuffix(base.Path, "/") + remainder
	}
	if target.Path == "" {
		target.Path = "/"
	}
	target.RawQuery = r.URL.RawQuery
	return target.String(), nil
}

// hopByHopHeaders never propagate across the proxy.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func isHopByHop(name string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}

// copyProxyHeaders transfers client headers to the backend request,
// dropping hop-by-hop headers and adding forwarding metadata.
func copyProxyHeaders(dst *http.Request, src *http.Request) {
	for name, values := range src.Header {
		if isHopByHop(name) {
			continue
		}
		dst.Header[name] = values
	}

	// Content-Length is recomputed from the buffered body.
	dst.Header.Del("Content-Length")

	if clientIP, _, err := net.SplitHostPort(src.RemoteAddr); err == nil {
		prior := src.Header.Get("X-Forwarded-For")
		if prior != "" {
			clientIP = prior + ", " + clientIP
		}
		dst.Header.Set("X-Forwarded-For", clientIP)
	}

	proto := "http"
	if src.TLS != nil {
		proto = "https"
	}
	dst.Header.Set("X-Forwarded-Proto", proto)
	dst.Header.Set("X-Forwarded-Host", src.Host)
}

// backoff returns factor^attempt seconds.
func backoff(factor float64, attempt int) time.Duration {
	if factor <= 0 {
		factor = 2
	}
	return time.Duration(math.Pow(factor, float64(attempt)) * float64(time.Second))
}

// retryable reports whether an attempt error is a transport failure
// worth retrying. HTTP responses never reach here.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		// Connection refused, reset, DNS failure and the like.
		return true
	}
	return false
}

// isTimeout reports whether the error chain contains a timeout.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// sleepContext waits for d or until the context ends.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
