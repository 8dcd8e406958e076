package oauth2client

import (
	"time"

	"github.com/zix99/simple-auth/pkg/scope"
	"golang.org/x/crypto/bcrypt"
)

// Client is a pre-provisioned OAuth2 client. Values are never mutated after the
// registry is built, so a *Client may be shared across goroutines.
type Client struct {
	ID           string
	secretHash   []byte
	Name         string
	Author       string
	AuthorURL    string
	RedirectURIs []string
	Scopes       scope.Set

	// SingleIssue revokes every prior token of an (account, client) pair whenever new tokens are issued.
	SingleIssue bool
	// IssuesIDToken adds a signed id_token to issued token sets.
	IssuesIDToken bool
	// ReuseToken hands back a live access token with identical scope instead of minting one.
	ReuseToken bool
	// AllowCredentials enables the password grant.
	AllowCredentials bool
	// AllowAutoGrant lets a previously consented client skip the consent screen.
	AllowAutoGrant bool

	// Per-client overrides; zero means use the service default.
	CodeTTL        time.Duration
	AccessTokenTTL time.Duration
}

// ValidateRedirectURI checks if the provided redirect URI is registered for this client
func (c *Client) ValidateRedirectURI(redirectURI string) bool {
	for _, allowedURI := range c.RedirectURIs {
		if allowedURI == redirectURI {
			return true
		}
	}
	return false
}

// ValidateScope checks the requested scopes are a subset of the client's allowed scopes
func (c *Client) ValidateScope(requested scope.Set) bool {
	return c.Scopes.ContainsAll(requested)
}

// VerifySecret compares secret against the stored bcrypt hash
func (c *Client) VerifySecret(secret string) bool {
	if len(c.secretHash) == 0 || secret == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(c.secretHash, []byte(secret)) == nil
}
