// Package sessions resolves the account behind an incoming request. Sessions
// are issued elsewhere; this package only verifies them.
package sessions

import (
	"context"
	"errors"
	"net/http"
)

// Source records how a request was authenticated
type Source string

const (
	SourceSession   Source = "session"
	SourceSharedKey Source = "shared-secret"
)

var (
	// ErrNoCredentials means the request carries nothing this authenticator understands
	ErrNoCredentials  = errors.New("no credentials presented")
	ErrInvalidSession = errors.New("invalid session")
)

// Identity is the authenticated caller
type Identity struct {
	AccountID string
	Source    Source
}

// Authenticator extracts an Identity from a request. It returns
// ErrNoCredentials when the request has no credentials of its kind.
type Authenticator interface {
	Authenticate(r *http.Request) (*Identity, error)
}

// Chain tries each authenticator in order. The first one that finds its
// kind of credentials decides the outcome.
type Chain []Authenticator

func (c Chain) Authenticate(r *http.Request) (*Identity, error) {
	for _, a := range c {
		id, err := a.Authenticate(r)
		if errors.Is(err, ErrNoCredentials) {
			continue
		}
		return id, err
	}
	return nil, ErrNoCredentials
}

type contextKey struct {
	name string
}

var identityKey = &contextKey{"Identity"}

func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok && id != nil
}

// AccountID returns the authenticated account id, or "" outside Required
func AccountID(ctx context.Context) string {
	if id, ok := FromContext(ctx); ok {
		return id.AccountID
	}
	return ""
}
