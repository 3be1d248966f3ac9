// Package gateway composes routing, authentication, rate limiting,
// caching, circuit breaking and proxying into the request pipeline.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/urbansense/trafficgw/internal/auth"
	"github.com/urbansense/trafficgw/internal/cache"
	"github.com/urbansense/trafficgw/internal/circuitbreaker"
	"github.com/urbansense/trafficgw/internal/config"
	"github.com/urbansense/trafficgw/internal/middleware"
	"github.com/urbansense/trafficgw/internal/observability"
	"github.com/urbansense/trafficgw/internal/proxy"
	"github.com/urbansense/trafficgw/internal/ratelimit"
	"github.com/urbansense/trafficgw/internal/router"
)

// Response headers set by the pipeline.
const (
	headerCacheStatus   = "X-Cache-Status"
	headerResponseTime  = "X-Response-Time"
	headerRateLimit     = "X-RateLimit-Limit"
	headerRateRemaining = "X-RateLimit-Remaining"
	headerRateReset     = "X-RateLimit-Reset"
	headerRetryAfter    = "Retry-After"
	headerWWWAuth       = "WWW-Authenticate"
	statusEndpointPath  = "/gateway/status"
)

// errBackendStatus marks a 5xx backend response inside a breaker call
// so it counts as a failure while the response still reaches the client.
var errBackendStatus = errors.New("backend returned server error")

// Gateway is the HTTP handler implementing the full request pipeline:
// route match, authentication, rate limit, cache lookup, breaker-guarded
// forward, cache store, write-triggered invalidation.
type Gateway struct {
	cfg           *config.Config
	table         *router.Table
	authenticator *auth.Authenticator
	limiter       *ratelimit.Limiter
	responses     *cache.ResponseCache
	breakers      *circuitbreaker.Registry
	forwarder     *proxy.Forwarder
	clientIP      *middleware.ClientIPExtractor
	logger        observability.Logger
	version       string
	startTime     time.Time
}

// Option is a functional option for the gateway.
type Option func(*Gateway)

// WithForwarder overrides the backend forwarder. For tests.
func WithForwarder(f *proxy.Forwarder) Option {
	return func(g *Gateway) {
		g.forwarder = f
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithVersion sets the version reported by the status endpoint.
func WithVersion(version string) Option {
	return func(g *Gateway) {
		g.version = version
	}
}

// New assembles a gateway from its components.
func New(
	cfg *config.Config,
	table *router.Table,
	authenticator *auth.Authenticator,
	limiter *ratelimit.Limiter,
	responses *cache.ResponseCache,
	breakers *circuitbreaker.Registry,
	opts ...Option,
) *Gateway {
	g := &Gateway{
		cfg:           cfg,
		table:         table,
		authenticator: authenticator,
		limiter:       limiter,
		responses:     responses,
		breakers:      breakers,
		forwarder:     proxy.NewForwarder(),
		clientIP:      middleware.NewClientIPExtractor(nil),
		logger:        observability.NopLogger(),
		version:       "dev",
		startTime:     time.Now(),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// ServeHTTP runs the request pipeline. Stage order is fixed: a request
// rejected at one stage never reaches the next.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := observability.RequestIDFromContext(r.Context())

	identity := auth.Anonymous()
	if g.authenticator != nil && g.authenticator.Enabled() {
		identity = g.authenticator.Authenticate(r.Header)
	}

	if r.URL.Path == statusEndpointPath {
		g.handleStatus(w, r, identity, requestID)
		return
	}

	route, err := g.table.Match(r.Method, r.URL.Path)
	if err != nil {
		writeError(w, http.StatusNotFound, "no matching route", requestID)
		getGatewayMetrics().observe("none", r.Method, http.StatusNotFound, time.Since(start))
		return
	}
	routeName := route.Config.Name

	if route.Config.AuthRequired && !identity.Authenticated {
		w.Header().Set(headerWWWAuth, "Bearer")
		writeError(w, http.StatusUnauthorized, "authentication required", requestID)
		getGatewayMetrics().observe(routeName, r.Method, http.StatusUnauthorized, time.Since(start))
		return
	}

	if !g.checkRateLimit(w, r, identity, routeName, requestID, start) {
		return
	}

	policy := &route.Config.Cache
	cached, cacheStatus := g.responses.Lookup(r.Context(), r, policy)
	if cacheStatus == cache.StatusHit {
		if cached.ContentType != "" {
			w.Header().Set("Content-Type", cached.ContentType)
		}
		g.finish(w, r, routeName, http.StatusOK, cacheStatus, start)
		_, _ = w.Write(cached.Body)
		return
	}

	resp, err := g.forward(r, route)
	if err != nil {
		g.writeForwardError(w, r, routeName, requestID, err, cacheStatus, start)
		return
	}

	if resp.StatusCode == http.StatusOK {
		if err := g.responses.Store(r.Context(), r, policy, resp.Header.Get("Content-Type"), resp.Body); err != nil {
			g.logger.Warn("cache store failed",
				observability.String("route", routeName),
				observability.Error(err))
		}
	}

	if r.Method != http.MethodGet && resp.StatusCode < 300 {
		g.responses.InvalidateForWrite(r.Context(), r.Method, r.URL.Path)
	}

	for name, values := range resp.Header {
		w.Header()[name] = values
	}
	g.finish(w, r, routeName, resp.StatusCode, cacheStatus, start)
	_, _ = w.Write(resp.Body)
}

// checkRateLimit enforces the token bucket. Returns false when the
// request was rejected and the response already written. Limiter
// backend failures fail open.
func (g *Gateway) checkRateLimit(w http.ResponseWriter, r *http.Request, identity auth.Identity, routeName, requestID string, start time.Time) bool {
	if g.limiter == nil || !g.cfg.RateLimiting.Enabled {
		return true
	}

	principal := identity.Principal()
	if principal == "" {
		principal = "ip:" + g.clientIP.Extract(r)
	}

	result, err := g.limiter.Check(r.Context(), principal, r.Method, r.URL.Path, identity.RateLimit())
	if err != nil {
		g.logger.Warn("rate limit check failed, allowing request",
			observability.String("route", routeName),
			observability.Error(err))
		return true
	}

	w.Header().Set(headerRateLimit, strconv.Itoa(result.Limit))
	w.Header().Set(headerRateRemaining, strconv.Itoa(result.Remaining))
	w.Header().Set(headerRateReset, strconv.FormatInt(result.Reset, 10))

	if result.Allowed {
		return true
	}

	w.Header().Set(headerRetryAfter, strconv.Itoa(int(result.RetryAfter.Seconds())))
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded", requestID)
	getGatewayMetrics().observe(routeName, r.Method, http.StatusTooManyRequests, time.Since(start))
	return false
}

// forward calls the backend, guarded by its circuit breaker when
// breaking is enabled. A 5xx backend status counts as a breaker
// failure but the response is still delivered to the client.
func (g *Gateway) forward(r *http.Request, route *router.Route) (*proxy.Response, error) {
	if g.breakers == nil || !g.breakers.Enabled() {
		return g.forwarder.Forward(r.Context(), r, route)
	}

	breaker := g.breakers.Get(route.Config.Backend)

	var resp *proxy.Response
	err := breaker.Call(r.Context(), func(ctx context.Context) error {
		var ferr error
		resp, ferr = g.forwarder.Forward(ctx, r, route)
		if ferr != nil {
			return ferr
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return errBackendStatus
		}
		return nil
	})

	if errors.Is(err, errBackendStatus) {
		// The client still gets the backend's own error response.
		return resp, nil
	}
	return resp, err
}

// writeForwardError maps forwarding failures onto gateway responses.
func (g *Gateway) writeForwardError(w http.ResponseWriter, r *http.Request, routeName, requestID string, err error, cacheStatus cache.Status, start time.Time) {
	status := http.StatusBadGateway
	message := "backend request failed"

	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		status = http.StatusServiceUnavailable
		message = "backend temporarily unavailable"
	default:
		if fe, ok := proxy.AsForwardError(err); ok {
			status = fe.StatusCode
			if status == http.StatusGatewayTimeout {
				message = "backend request timed out"
			} else {
				message = "backend unavailable"
			}
		}
	}

	g.logger.Error("backend request failed",
		observability.String("route", routeName),
		observability.String("method", r.Method),
		observability.String("path", r.URL.Path),
		observability.Int("status", status),
		observability.Error(err))

	w.Header().Set(headerCacheStatus, string(cacheStatus))
	writeError(w, status, message, requestID)
	getGatewayMetrics().observe(routeName, r.Method, status, time.Since(start))
}

// finish sets the trailing pipeline headers and writes the status line.
func (g *Gateway) finish(w http.ResponseWriter, r *http.Request, routeName string, status int, cacheStatus cache.Status, start time.Time) {
	elapsed := time.Since(start)
	w.Header().Set(headerCacheStatus, string(cacheStatus))
	w.Header().Set(headerResponseTime, fmt.Sprintf("%.2fms", float64(elapsed.Microseconds())/1000.0))
	w.WriteHeader(status)
	getGatewayMetrics().observe(routeName, r.Method, status, elapsed)
}
