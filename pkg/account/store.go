// Package account defines the Account Store the OAuth2 engine authenticates
// resource owners against. Credential storage lives outside this service; the
// in-memory store here backs development setups and tests.
package account

import (
	"context"
	"errors"
)

var (
	// ErrInvalidCredentials covers unknown identifiers, wrong passwords, bad or
	// missing TOTP codes and disabled accounts alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotFound           = errors.New("account not found")
)

// Account is the identity handed back by a successful authentication.
type Account struct {
	ID       string
	Username string
	Email    string
	Name     string
}

// Store verifies resource owner credentials. Any error other than
// ErrInvalidCredentials or ErrNotFound is treated as a transient outage.
type Store interface {
	Authenticate(ctx context.Context, identifier, password string, totp *string) (*Account, error)
	GetAccount(ctx context.Context, accountID string) (*Account, error)
}
