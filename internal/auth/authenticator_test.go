package auth

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urbansense/trafficgw/internal/config"
)

func testAuthConfig() *config.AuthenticationConfig {
	return &config.AuthenticationConfig{
		Methods: []config.AuthMethodConfig{
			{
				Type:   config.AuthMethodAPIKey,
				Header: "X-API-Key",
				Keys: []config.APIKeyConfig{
					{Key: "tk_live", Owner: "dashboard", RateLimit: 120, Enabled: true},
					{Key: "tk_dead", Owner: "retired", Enabled: false},
				},
			},
			{
				Type:     config.AuthMethodJWT,
				Secret:   testSecret,
				Issuer:   "urbansense-auth",
				Audience: "trafficgw",
			},
		},
	}
}

func TestAuthenticator_APIKey(t *testing.T) {
	a, err := NewAuthenticator(testAuthConfig())
	require.NoError(t, err)
	require.True(t, a.Enabled())

	headers := http.Header{}
	headers.Set("X-API-Key", "tk_live")

	identity := a.Authenticate(headers)
	assert.True(t, identity.Authenticated)
	assert.Equal(t, "key:tk_live", identity.Principal())
	assert.Equal(t, 120, identity.RateLimit())
	assert.Equal(t, "dashboard", identity.Owner())
}

func TestAuthenticator_DisabledKey(t *testing.T) {
	a, err := NewAuthenticator(testAuthConfig())
	require.NoError(t, err)

	headers := http.Header{}
	headers.Set("X-API-Key", "tk_dead")

	identity := a.Authenticate(headers)
	assert.False(t, identity.Authenticated)
	assert.Equal(t, "", identity.Principal())
}

func TestAuthenticator_UnknownKeyFallsThroughToJWT(t *testing.T) {
	a, err := NewAuthenticator(testAuthConfig())
	require.NoError(t, err)

	headers := http.Header{}
	headers.Set("X-API-Key", "tk_bogus")
	headers.Set("Authorization", "Bearer "+signToken(t, testSecret, nil))

	identity := a.Authenticate(headers)
	assert.True(t, identity.Authenticated)
	assert.Equal(t, "sub:sensor-ingest", identity.Principal())
	assert.Equal(t, "sensor-ingest", identity.Owner())
}

func TestAuthenticator_APIKeyTakesPrecedence(t *testing.T) {
	a, err := NewAuthenticator(testAuthConfig())
	require.NoError(t, err)

	headers := http.Header{}
	headers.Set("X-API-Key", "tk_live")
	headers.Set("Authorization", "Bearer "+signToken(t, testSecret, nil))

	identity := a.Authenticate(headers)
	assert.True(t, identity.Authenticated)
	assert.Equal(t, "key:tk_live", identity.Principal())
}

func TestAuthenticator_InvalidJWT(t *testing.T) {
	a, err := NewAuthenticator(testAuthConfig())
	require.NoError(t, err)

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+signToken(t, "wrong-secret", nil))

	identity := a.Authenticate(headers)
	assert.False(t, identity.Authenticated)
}

func TestAuthenticator_NoCredentials(t *testing.T) {
	a, err := NewAuthenticator(testAuthConfig())
	require.NoError(t, err)

	identity := a.Authenticate(http.Header{})
	assert.False(t, identity.Authenticated)
	assert.Equal(t, "", identity.Owner())
}

func TestAuthenticator_NoMethodsConfigured(t *testing.T) {
	a, err := NewAuthenticator(&config.AuthenticationConfig{})
	require.NoError(t, err)
	assert.False(t, a.Enabled())
}

func TestKeyTable(t *testing.T) {
	table := NewKeyTable(&config.AuthMethodConfig{
		Keys: []config.APIKeyConfig{
			{Key: "k1", Enabled: true},
			{Key: "k2", Enabled: false},
		},
	})

	assert.Equal(t, "X-API-Key", table.Header())
	assert.Equal(t, 2, table.Len())

	entry, ok := table.Lookup("k1")
	require.True(t, ok)
	assert.Equal(t, "k1", entry.Key)
	_, ok = table.Lookup("k2")
	assert.False(t, ok)
	_, ok = table.Lookup("")
	assert.False(t, ok)

	// Near misses never match: prefixes, extensions, wrong lengths.
	for _, candidate := range []string{"k", "k1 ", "k11", "K1"} {
		_, ok = table.Lookup(candidate)
		assert.False(t, ok, "candidate %q must not match", candidate)
	}
}
