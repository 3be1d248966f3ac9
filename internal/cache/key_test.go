package cache

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey_Deterministic(t *testing.T) {
	r1 := httptest.NewRequest("GET", "/api/v1/congestion?zone=7", nil)
	r2 := httptest.NewRequest("GET", "/api/v1/congestion?zone=7", nil)

	assert.Equal(t, Key(r1, nil), Key(r2, nil))
	assert.Len(t, Key(r1, nil), 64)
}

func TestKey_MethodAndPathMatter(t *testing.T) {
	get := httptest.NewRequest("GET", "/api/v1/congestion", nil)
	head := httptest.NewRequest("HEAD", "/api/v1/congestion", nil)
	other := httptest.NewRequest("GET", "/api/v1/incidents", nil)

	assert.NotEqual(t, Key(get, nil), Key(head, nil))
	assert.NotEqual(t, Key(get, nil), Key(other, nil))
}

func TestKey_VaryByQuery(t *testing.T) {
	varyBy := []string{"query:zone"}

	zone7 := httptest.NewRequest("GET", "/api/v1/congestion?zone=7", nil)
	zone8 := httptest.NewRequest("GET", "/api/v1/congestion?zone=8", nil)
	assert.NotEqual(t, Key(zone7, varyBy), Key(zone8, varyBy))

	// Parameters outside vary_by do not split the key.
	noisy := httptest.NewRequest("GET", "/api/v1/congestion?zone=7&ts=123", nil)
	assert.Equal(t, Key(zone7, varyBy), Key(noisy, varyBy))
}

func TestKey_VaryByHeader(t *testing.T) {
	varyBy := []string{"header:Accept"}

	jsonReq := httptest.NewRequest("GET", "/api/v1/congestion", nil)
	jsonReq.Header.Set("Accept", "application/json")

	csvReq := httptest.NewRequest("GET", "/api/v1/congestion", nil)
	csvReq.Header.Set("Accept", "text/csv")

	assert.NotEqual(t, Key(jsonReq, varyBy), Key(csvReq, varyBy))
}

func TestKey_VaryByBody(t *testing.T) {
	varyBy := []string{"body"}

	r1 := httptest.NewRequest("GET", "/api/v1/query", strings.NewReader(`{"zone":7}`))
	r2 := httptest.NewRequest("GET", "/api/v1/query", strings.NewReader(`{"zone":8}`))
	assert.NotEqual(t, Key(r1, varyBy), Key(r2, varyBy))
}

func TestKey_BodyRestoredAfterHashing(t *testing.T) {
	body := `{"zone":7}`
	r := httptest.NewRequest("GET", "/api/v1/query", strings.NewReader(body))

	_ = Key(r, []string{"body"})

	buf := make([]byte, len(body))
	n, _ := r.Body.Read(buf)
	assert.Equal(t, body, string(buf[:n]))
}

func TestKey_VaryOrderIrrelevant(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/congestion?zone=7&resolution=high", nil)

	a := Key(r, []string{"query:zone", "query:resolution"})
	b := Key(r, []string{"query:resolution", "query:zone"})
	assert.Equal(t, a, b)
}
