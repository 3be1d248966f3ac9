package router

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urbansense/trafficgw/internal/config"
)

func testRoutes() []config.RouteConfig {
	return []config.RouteConfig{
		{
			Name:     "readings-exact",
			Path:     "/api/v1/readings/latest",
			PathType: config.PathTypeExact,
			Backend:  "http://ingest:9001",
			Methods:  []string{"GET"},
		},
		{
			Name:     "readings",
			Path:     "/api/v1/readings/*",
			PathType: config.PathTypePrefix,
			Backend:  "http://ingest:9001",
			Methods:  []string{"GET", "POST"},
		},
		{
			Name:     "signal-plan",
			Path:     "/api/v1/signals/[0-9]+/plan",
			PathType: config.PathTypeRegex,
			Backend:  "http://signals:9004",
			Methods:  []string{"GET"},
		},
	}
}

func TestTable_MatchExact(t *testing.T) {
	table, err := NewTable(testRoutes(), nil)
	require.NoError(t, err)

	route, err := table.Match(http.MethodGet, "/api/v1/readings/latest")
	require.NoError(t, err)
	assert.Equal(t, "readings-exact", route.Config.Name)
}

func TestTable_MatchPrefix(t *testing.T) {
	table, err := NewTable(testRoutes(), nil)
	require.NoError(t, err)

	route, err := table.Match(http.MethodPost, "/api/v1/readings/sensor-17")
	require.NoError(t, err)
	assert.Equal(t, "readings", route.Config.Name)

	// The bare prefix matches too.
	route, err = table.Match(http.MethodGet, "/api/v1/readings")
	require.NoError(t, err)
	assert.Equal(t, "readings", route.Config.Name)
}

func TestTable_MatchRegex(t *testing.T) {
	table, err := NewTable(testRoutes(), nil)
	require.NoError(t, err)

	route, err := table.Match(http.MethodGet, "/api/v1/signals/42/plan")
	require.NoError(t, err)
	assert.Equal(t, "signal-plan", route.Config.Name)

	_, err = table.Match(http.MethodGet, "/api/v1/signals/abc/plan")
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestTable_FirstMatchWins(t *testing.T) {
	table, err := NewTable(testRoutes(), nil)
	require.NoError(t, err)

	// The exact route is listed before the overlapping prefix route.
	route, err := table.Match(http.MethodGet, "/api/v1/readings/latest")
	require.NoError(t, err)
	assert.Equal(t, "readings-exact", route.Config.Name)
}

func TestTable_MethodFiltering(t *testing.T) {
	table, err := NewTable(testRoutes(), nil)
	require.NoError(t, err)

	// DELETE is not accepted by any route on this path.
	_, err = table.Match(http.MethodDelete, "/api/v1/readings/sensor-17")
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestTable_HeadPiggybacksOnGet(t *testing.T) {
	table, err := NewTable(testRoutes(), nil)
	require.NoError(t, err)

	route, err := table.Match(http.MethodHead, "/api/v1/readings/latest")
	require.NoError(t, err)
	assert.Equal(t, "readings-exact", route.Config.Name)
}

func TestTable_NoMatch(t *testing.T) {
	table, err := NewTable(testRoutes(), nil)
	require.NoError(t, err)

	_, err = table.Match(http.MethodGet, "/api/v2/unknown")
	assert.ErrorIs(t, err, ErrNoMatch)

	assert.Equal(t, 3, table.Len())
}

func TestPrefixMatcher_Boundary(t *testing.T) {
	m := NewPrefixMatcher("/api/v1/readings/*")

	assert.True(t, m.Match("/api/v1/readings"))
	assert.True(t, m.Match("/api/v1/readings/abc"))
	assert.False(t, m.Match("/api/v1/readingsextra"))

	assert.Equal(t, "/sensor-17", m.StripPrefix("/api/v1/readings/sensor-17"))
	assert.Equal(t, "", m.StripPrefix("/api/v1/readings"))
}

func TestRegexMatcher_Anchored(t *testing.T) {
	m, err := NewRegexMatcher("/api/v1/signals/[0-9]+")
	require.NoError(t, err)

	assert.True(t, m.Match("/api/v1/signals/7"))
	assert.False(t, m.Match("/api/v1/signals/7/plan"))
	assert.False(t, m.Match("/prefix/api/v1/signals/7"))
}

func TestNewTable_InvalidRegex(t *testing.T) {
	_, err := NewTable([]config.RouteConfig{{
		Name:     "bad",
		Path:     "[",
		PathType: config.PathTypeRegex,
		Backend:  "http://x:1",
		Methods:  []string{"GET"},
	}}, nil)
	assert.Error(t, err)
}
