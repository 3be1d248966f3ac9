package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/urbansense/trafficgw/internal/auth"
	"github.com/urbansense/trafficgw/internal/circuitbreaker"
)

// statusResponse is the body of the gateway status endpoint.
type statusResponse struct {
	Status        string                                  `json:"status"`
	Version       string                                  `json:"version"`
	Timestamp     time.Time                               `json:"timestamp"`
	StartedAt     time.Time                               `json:"started_at"`
	UptimeSeconds int64                                   `json:"uptime_seconds"`
	Routes        int                                     `json:"routes"`
	Backends      map[string]circuitbreaker.BackendStatus `json:"circuit_breakers"`
}

// handleStatus serves the operational status endpoint. It requires an
// authenticated caller whenever authentication is configured.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request, identity auth.Identity, requestID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	if g.authenticator != nil && g.authenticator.Enabled() && !identity.Authenticated {
		w.Header().Set(headerWWWAuth, "Bearer")
		writeError(w, http.StatusUnauthorized, "authentication required", requestID)
		return
	}

	backends := map[string]circuitbreaker.BackendStatus{}
	if g.breakers != nil {
		backends = g.breakers.States()
	}

	resp := statusResponse{
		Status:        "ok",
		Version:       g.version,
		Timestamp:     time.Now().UTC(),
		StartedAt:     g.startTime,
		UptimeSeconds: int64(time.Since(g.startTime).Seconds()),
		Routes:        g.table.Len(),
		Backends:      backends,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
