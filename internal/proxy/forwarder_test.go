package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urbansense/trafficgw/internal/config"
	"github.com/urbansense/trafficgw/internal/router"
)

// echoPayload is what the test backend reports about the request it saw.
type echoPayload struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Query   string            `json:"query"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

func startEchoBackend(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		headers := map[string]string{}
		for name := range r.Header {
			headers[name] = r.Header.Get(name)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(echoPayload{
			Method:  r.Method,
			Path:    r.URL.Path,
			Query:   r.URL.RawQuery,
			Headers: headers,
			Body:    string(body),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func makeRoute(t *testing.T, rc config.RouteConfig) *router.Route {
	t.Helper()

	if len(rc.Methods) == 0 {
		rc.Methods = []string{"GET", "POST", "PUT", "DELETE"}
	}
	if rc.Name == "" {
		rc.Name = "test-route"
	}

	table, err := router.NewTable([]config.RouteConfig{rc}, nil)
	require.NoError(t, err)
	return table.Routes()[0]
}

func TestForwarder_ForwardsRequest(t *testing.T) {
	backend := startEchoBackend(t)
	f := NewForwarder()

	route := makeRoute(t, config.RouteConfig{
		Path:     "/api/v1/readings/*",
		PathType: config.PathTypePrefix,
		Backend:  backend.URL,
		Timeout:  config.Duration(5 * time.Second),
	})

	r := httptest.NewRequest("POST", "/api/v1/readings/sensor-17?since=100", strings.NewReader("payload"))
	r.Header.Set("X-Custom", "abc")
	r.RemoteAddr = "10.1.2.3:4444"

	resp, err := f.Forward(context.Background(), r, route)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var echo echoPayload
	require.NoError(t, json.Unmarshal(resp.Body, &echo))

	// The matched prefix is stripped; the query carries over.
	assert.Equal(t, "POST", echo.Method)
	assert.Equal(t, "/sensor-17", echo.Path)
	assert.Equal(t, "since=100", echo.Query)
	assert.Equal(t, "payload", echo.Body)
	assert.Equal(t, "abc", echo.Headers["X-Custom"])
	assert.Equal(t, "10.1.2.3", echo.Headers["X-Forwarded-For"])
	assert.Equal(t, "http", echo.Headers["X-Forwarded-Proto"])
}

func TestForwarder_ExactRouteCallsBackendBase(t *testing.T) {
	backend := startEchoBackend(t)
	f := NewForwarder()

	route := makeRoute(t, config.RouteConfig{
		Path:     "/api/v1/congestion",
		PathType: config.PathTypeExact,
		Backend:  backend.URL + "/internal/congestion",
		Timeout:  config.Duration(5 * time.Second),
	})

	r := httptest.NewRequest("GET", "/api/v1/congestion?zone=7", nil)

	resp, err := f.Forward(context.Background(), r, route)
	require.NoError(t, err)

	// The backend is called at its configured base URL; the incoming
	// path is not appended, only the query string carries over.
	var echo echoPayload
	require.NoError(t, json.Unmarshal(resp.Body, &echo))
	assert.Equal(t, "/internal/congestion", echo.Path)
	assert.Equal(t, "zone=7", echo.Query)
}

func TestForwarder_StaticHeaders(t *testing.T) {
	backend := startEchoBackend(t)
	f := NewForwarder()

	route := makeRoute(t, config.RouteConfig{
		Path:          "/api/v1/congestion",
		PathType:      config.PathTypeExact,
		Backend:       backend.URL,
		Timeout:       config.Duration(5 * time.Second),
		StaticHeaders: map[string]string{"X-Gateway": "trafficgw"},
	})

	r := httptest.NewRequest("GET", "/api/v1/congestion", nil)

	resp, err := f.Forward(context.Background(), r, route)
	require.NoError(t, err)

	var echo echoPayload
	require.NoError(t, json.Unmarshal(resp.Body, &echo))
	assert.Equal(t, "trafficgw", echo.Headers["X-Gateway"])
}

func TestForwarder_BackendErrorStatusPassesThrough(t *testing.T) {
	attempts := 0
	probe := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(probe.Close)

	f := NewForwarder()
	route := makeRoute(t, config.RouteConfig{
		Path:     "/x",
		PathType: config.PathTypeExact,
		Backend:  probe.URL,
		Timeout:  config.Duration(5 * time.Second),
		Retry:    config.RetryConfig{Enabled: true, MaxAttempts: 3, BackoffFactor: 2},
	})

	r := httptest.NewRequest("GET", "/x", nil)
	resp, err := f.Forward(context.Background(), r, route)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	// HTTP error statuses are not transport failures: no retry.
	assert.Equal(t, 1, attempts)
}

func TestForwarder_RetriesConnectionFailure(t *testing.T) {
	// A server that is immediately closed leaves a refusing address.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	deadURL := srv.URL
	srv.Close()

	var waits []time.Duration
	f := NewForwarder(WithSleep(func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}))

	route := makeRoute(t, config.RouteConfig{
		Path:     "/x",
		PathType: config.PathTypeExact,
		Backend:  deadURL,
		Timeout:  config.Duration(5 * time.Second),
		Retry:    config.RetryConfig{Enabled: true, MaxAttempts: 3, BackoffFactor: 2},
	})

	r := httptest.NewRequest("GET", "/x", nil)
	_, err := f.Forward(context.Background(), r, route)
	require.Error(t, err)

	fe, ok := AsForwardError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusServiceUnavailable, fe.StatusCode)
	assert.Equal(t, 3, fe.Attempts)

	// Exponential backoff: factor^1 then factor^2 seconds.
	require.Len(t, waits, 2)
	assert.Equal(t, 2*time.Second, waits[0])
	assert.Equal(t, 4*time.Second, waits[1])
}

func TestForwarder_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)

	f := NewForwarder()
	route := makeRoute(t, config.RouteConfig{
		Path:     "/x",
		PathType: config.PathTypeExact,
		Backend:  srv.URL,
		Timeout:  config.Duration(50 * time.Millisecond),
	})

	r := httptest.NewRequest("GET", "/x", nil)
	_, err := f.Forward(context.Background(), r, route)
	require.Error(t, err)

	fe, ok := AsForwardError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusGatewayTimeout, fe.StatusCode)
}

func TestForwarder_StripsHopByHopResponseHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Keep-Alive", "timeout=5")
		w.Header().Set("X-Backend", "ok")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	f := NewForwarder()
	route := makeRoute(t, config.RouteConfig{
		Path:     "/x",
		PathType: config.PathTypeExact,
		Backend:  srv.URL,
		Timeout:  config.Duration(5 * time.Second),
	})

	r := httptest.NewRequest("GET", "/x", nil)
	resp, err := f.Forward(context.Background(), r, route)
	require.NoError(t, err)

	assert.Empty(t, resp.Header.Get("Keep-Alive"))
	assert.Equal(t, "ok", resp.Header.Get("X-Backend"))
}

func TestBuildTargetURL_JoinsBasePath(t *testing.T) {
	route := makeRoute(t, config.RouteConfig{
		Path:     "/api/v1/readings/*",
		PathType: config.PathTypePrefix,
		Backend:  "http://ingest:9001/internal/",
		Timeout:  config.Duration(time.Second),
	})

	r := httptest.NewRequest("GET", "/api/v1/readings/sensor-17?since=1", nil)
	target, err := buildTargetURL(r, route)
	require.NoError(t, err)
	assert.Equal(t, "http://ingest:9001/internal/sensor-17?since=1", target)
}

func TestBuildTargetURL_ExactRouteUsesBase(t *testing.T) {
	route := makeRoute(t, config.RouteConfig{
		Path:     "/detect",
		PathType: config.PathTypeExact,
		Backend:  "http://cv:9003/api/detect",
		Timeout:  config.Duration(time.Second),
	})

	r := httptest.NewRequest("GET", "/detect?frame=12", nil)
	target, err := buildTargetURL(r, route)
	require.NoError(t, err)
	assert.Equal(t, "http://cv:9003/api/detect?frame=12", target)

	// A backend without a path resolves to the root.
	route = makeRoute(t, config.RouteConfig{
		Path:     "/detect",
		PathType: config.PathTypeExact,
		Backend:  "http://cv:9003",
		Timeout:  config.Duration(time.Second),
	})

	target, err = buildTargetURL(r, route)
	require.NoError(t, err)
	assert.Equal(t, "http://cv:9003/?frame=12", target)
}
