package router

import (
	"errors"
	"net/http"

	"github.com/urbansense/trafficgw/internal/config"
	"github.com/urbansense/trafficgw/internal/observability"
)

// ErrNoMatch is returned when no route matches a request.
var ErrNoMatch = errors.New("no matching route")

// Route pairs a route configuration with its compiled path matcher.
type Route struct {
	Config  *config.RouteConfig
	Matcher PathMatcher

	methods map[string]bool
}

// AllowsMethod reports whether the route accepts the given method.
func (r *Route) AllowsMethod(method string) bool {
	return r.methods[method]
}

// Table holds the ordered route definitions. It is read-only after
// construction; matching is safe for concurrent use.
type Table struct {
	routes []*Route
	logger observability.Logger
}

// NewTable builds a route table from configuration. Route order is
// preserved: the first matching route wins.
func NewTable(configs []config.RouteConfig, logger observability.Logger) (*Table, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	routes := make([]*Route, 0, len(configs))
	for i := range configs {
		rc := &configs[i]
		matcher, err := newMatcher(rc)
		if err != nil {
			return nil, err
		}

		methods := make(map[string]bool, len(rc.Methods))
		for _, m := range rc.Methods {
			methods[m] = true
		}
		// HEAD piggybacks on GET routes.
		if methods[http.MethodGet] {
			methods[http.MethodHead] = true
		}

		routes = append(routes, &Route{
			Config:  rc,
			Matcher: matcher,
			methods: methods,
		})

		logger.Debug("route registered",
			observability.String("route", rc.Name),
			observability.String("pattern", rc.Path),
			observability.String("type", matcher.Type()),
			observability.String("backend", rc.Backend),
		)
	}

	return &Table{routes: routes, logger: logger}, nil
}

// Match finds the first route accepting the method whose pattern
// matches the path. Returns ErrNoMatch if none does.
func (t *Table) Match(method, path string) (*Route, error) {
	for _, route := range t.routes {
		if !route.AllowsMethod(method) {
			continue
		}
		if route.Matcher.Match(path) {
			return route, nil
		}
	}
	return nil, ErrNoMatch
}

// Len returns the number of configured routes.
func (t *Table) Len() int {
	return len(t.routes)
}

// Routes returns the ordered routes.
func (t *Table) Routes() []*Route {
	return t.routes
}
