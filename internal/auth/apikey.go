package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/urbansense/trafficgw/internal/config"
)

// KeyTable is the in-memory API key table, looked up by raw key value.
// It is read-only after construction and safe for concurrent use.
type KeyTable struct {
	header string
	keys   []*config.APIKeyConfig
}

// NewKeyTable builds a key table from the api_key method configuration.
func NewKeyTable(cfg *config.AuthMethodConfig) *KeyTable {
	header := cfg.Header
	if header == "" {
		header = "X-API-Key"
	}

	keys := make([]*config.APIKeyConfig, 0, len(cfg.Keys))
	for i := range cfg.Keys {
		keys = append(keys, &cfg.Keys[i])
	}

	return &KeyTable{header: header, keys: keys}
}

// Header returns the configured API key header name.
func (t *KeyTable) Header() string {
	return t.header
}

// Lookup returns the key entry for the raw value. Disabled keys are
// treated as absent. Every configured key is compared in constant
// time, and the whole table is always scanned so timing does not
// reveal whether or where a candidate matched.
func (t *KeyTable) Lookup(raw string) (*config.APIKeyConfig, bool) {
	if raw == "" {
		return nil, false
	}

	var match *config.APIKeyConfig
	for _, k := range t.keys {
		if subtle.ConstantTimeCompare([]byte(k.Key), []byte(raw)) == 1 {
			match = k
		}
	}

	if match == nil || !match.Enabled {
		return nil, false
	}
	return match, true
}

// Extract reads the API key from the request headers.
func (t *KeyTable) Extract(headers http.Header) string {
	return headers.Get(t.header)
}

// Len returns the number of configured keys, enabled or not.
func (t *KeyTable) Len() int {
	return len(t.keys)
}
