package wellknown

import (
	"strings"

	"github.com/zix99/simple-auth/pkg/jwks"
)

// AuthorizationServerMetadata represents the OAuth 2.0 Authorization Server Metadata
// as defined in RFC 8414: https://datatracker.ietf.org/doc/html/rfc8414
type AuthorizationServerMetadata struct {
	// REQUIRED: The authorization server's issuer identifier
	Issuer string `json:"issuer"`

	// Grants are requested by the logged in account through the grant endpoint,
	// not a browser redirect, so there is no authorization_endpoint.
	GrantEndpoint string `json:"grant_endpoint"`

	// REQUIRED: URL of the authorization server's token endpoint
	TokenEndpoint string `json:"token_endpoint"`

	// OPTIONAL: URL of the RFC 7662 introspection endpoint
	IntrospectionEndpoint string `json:"introspection_endpoint,omitempty"`

	// OPTIONAL: Array of scope values that the authorization server supports
	ScopesSupported []string `json:"scopes_supported,omitempty"`

	ResponseTypesSupported []string `json:"response_types_supported"`

	GrantTypesSupported []string `json:"grant_types_supported"`

	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`

	// OPTIONAL: URL of the JWK Set document with the id token verification keys
	JWKSURI string `json:"jwks_uri,omitempty"`

	// Set when id tokens are signed
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported,omitempty"`
}

// Config holds configuration for well-known endpoints
type Config struct {
	// Issuer is the iss of id tokens and introspection responses
	Issuer string

	// BaseURL is the externally visible URL of the OAuth2 routes, e.g. "https://auth.example.com/api/v1/auth/oauth2"
	BaseURL string

	// Scopes is the union of every client's allowed scopes
	Scopes []string

	// GrantTypes lists the enabled grant types
	GrantTypes []string

	// IDTokenAlgorithm is the id token signing algorithm, empty when none is configured
	IDTokenAlgorithm string

	// KeySet is published on JWKSURI when it holds public keys
	KeySet  *jwks.JWKS
	JWKSURI string
}

// NewAuthorizationServerMetadata creates a new AuthorizationServerMetadata instance
func NewAuthorizationServerMetadata(config Config) *AuthorizationServerMetadata {
	base := strings.TrimSuffix(config.BaseURL, "/")
	grantTypes := config.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{"authorization_code", "refresh_token", "password"}
	}

	md := &AuthorizationServerMetadata{
		Issuer:                            config.Issuer,
		GrantEndpoint:                     base + "/grant",
		TokenEndpoint:                     base + "/token",
		IntrospectionEndpoint:             base + "/token_info",
		ScopesSupported:                   config.Scopes,
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               grantTypes,
		TokenEndpointAuthMethodsSupported: []string{"client_secret_post", "client_secret_basic"},
	}
	if config.IDTokenAlgorithm != "" {
		md.IDTokenSigningAlgValuesSupported = []string{config.IDTokenAlgorithm}
	}
	if config.KeySet != nil && len(config.KeySet.Keys) > 0 {
		md.JWKSURI = config.JWKSURI
	}
	return md
}
