package wellknown

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zix99/simple-auth/pkg/jwks"
)

func TestAuthorizationServerMetadata(t *testing.T) {
	h := NewHandler(Config{
		Issuer:           "simple-auth",
		BaseURL:          "https://auth.example.com/api/v1/auth/oauth2/",
		Scopes:           []string{"email", "username"},
		IDTokenAlgorithm: "HS256",
	})

	w := httptest.NewRecorder()
	h.AuthorizationServerMetadata(w, httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "public, max-age=3600", w.Header().Get("Cache-Control"))

	var md AuthorizationServerMetadata
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &md))
	assert.Equal(t, "simple-auth", md.Issuer)
	assert.Equal(t, "https://auth.example.com/api/v1/auth/oauth2/token", md.TokenEndpoint)
	assert.Equal(t, "https://auth.example.com/api/v1/auth/oauth2/token_info", md.IntrospectionEndpoint)
	assert.Equal(t, "https://auth.example.com/api/v1/auth/oauth2/grant", md.GrantEndpoint)
	assert.Equal(t, []string{"authorization_code", "refresh_token", "password"}, md.GrantTypesSupported)
	assert.Equal(t, []string{"HS256"}, md.IDTokenSigningAlgValuesSupported)
}

func TestAuthorizationServerMetadata_NoIDTokens(t *testing.T) {
	md := NewAuthorizationServerMetadata(Config{Issuer: "x", GrantTypes: []string{"authorization_code"}})
	assert.Empty(t, md.IDTokenSigningAlgValuesSupported)
	assert.Equal(t, []string{"authorization_code"}, md.GrantTypesSupported)
	assert.Equal(t, "/token", md.TokenEndpoint)
}

func TestJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	set := &jwks.JWKS{Keys: []jwks.JWK{jwks.NewRSAKey(&key.PublicKey, "RS256", "")}}

	h := NewHandler(Config{
		Issuer:           "simple-auth",
		IDTokenAlgorithm: "RS256",
		KeySet:           set,
		JWKSURI:          "https://auth.example.com/.well-known/jwks.json",
	})
	assert.True(t, h.HasKeys())
	assert.Equal(t, "https://auth.example.com/.well-known/jwks.json", h.metadata.JWKSURI)

	w := httptest.NewRecorder()
	h.JWKS(w, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got jwks.JWKS
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got.Keys, 1)
	assert.Equal(t, jwks.Thumbprint(&key.PublicKey), got.Keys[0].Kid)

	hmac := NewHandler(Config{Issuer: "simple-auth", IDTokenAlgorithm: "HS256", KeySet: &jwks.JWKS{}, JWKSURI: "https://x/jwks"})
	assert.False(t, hmac.HasKeys())
	assert.Empty(t, hmac.metadata.JWKSURI)
}
