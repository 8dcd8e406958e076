package authcode

import (
	"time"

	"github.com/zix99/simple-auth/pkg/scope"
)

// AuthorizationCode is a short-lived, single-use credential produced by a
// successful grant request.
type AuthorizationCode struct {
	Code        string
	ClientID    string
	AccountID   string
	Scope       scope.Set
	RedirectURI string
	State       string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	ConsumedAt  *time.Time
}

func (c *AuthorizationCode) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

func (c *AuthorizationCode) IsConsumed() bool {
	return c.ConsumedAt != nil
}
