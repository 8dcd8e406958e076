package token

import (
	"time"

	"github.com/zix99/simple-auth/pkg/scope"
)

// Kind distinguishes the stored token types
type Kind string

const (
	KindAccess  Kind = "access_token"
	KindRefresh Kind = "refresh_token"
)

const shortTokenLength = 5

// Token is a stored opaque token. Revocation is a tombstone (RevokedAt), rows
// are never updated otherwise except for the generation of a refresh token.
//
// Every refresh token heads a chain; ChainID of the refresh token is its own
// ID and access tokens minted in the chain point at it. Generation counts
// refresh exchanges on the chain.
type Token struct {
	ID         string
	Kind       Kind
	Value      string
	ClientID   string
	AccountID  string
	Scope      scope.Set
	ChainID    string
	Generation int
	IssuedAt   time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
}

// ShortToken is the display form of the value
func (t *Token) ShortToken() string {
	if len(t.Value) <= shortTokenLength {
		return t.Value
	}
	return t.Value[:shortTokenLength]
}

func (t *Token) IsRevoked() bool {
	return t.RevokedAt != nil
}

func (t *Token) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsActive reports whether the token is neither revoked nor expired
func (t *Token) IsActive(now time.Time) bool {
	return !t.IsRevoked() && !t.IsExpired(now)
}

// TokenSet is the response of every successful exchange
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

// TokenInfo is one row of an account's token listing
type TokenInfo struct {
	ClientID   string    `json:"client_id"`
	ClientName string    `json:"client_name,omitempty"`
	ShortToken string    `json:"short_token"`
	Type       Kind      `json:"type"`
	Created    time.Time `json:"created"`
	Expires    time.Time `json:"expires"`
}
