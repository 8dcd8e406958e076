package grant

import (
	"time"

	"github.com/zix99/simple-auth/pkg/scope"
)

// Grant records the scopes an account has consented to for a client.
type Grant struct {
	AccountID string
	ClientID  string
	Scope     scope.Set
	CreatedAt time.Time
	UpdatedAt time.Time
}
