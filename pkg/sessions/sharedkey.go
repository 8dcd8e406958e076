package sessions

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
)

const (
	SharedKeyScheme     = "SharedKey"
	AccountIDHeader     = "X-Account-UUID"
	authorizationHeader = "Authorization"
)

// SharedKeyAuthenticator lets trusted backends act for an account with
// "Authorization: SharedKey <secret>" plus the X-Account-UUID header.
type SharedKeyAuthenticator struct {
	secret []byte
}

func NewSharedKeyAuthenticator(secret string) *SharedKeyAuthenticator {
	return &SharedKeyAuthenticator{secret: []byte(secret)}
}

func (a *SharedKeyAuthenticator) Authenticate(r *http.Request) (*Identity, error) {
	scheme, presented, ok := strings.Cut(r.Header.Get(authorizationHeader), " ")
	if !ok || !strings.EqualFold(scheme, SharedKeyScheme) {
		return nil, ErrNoCredentials
	}
	if len(a.secret) == 0 || subtle.ConstantTimeCompare([]byte(presented), a.secret) != 1 {
		return nil, fmt.Errorf("%w: bad shared key", ErrInvalidSession)
	}
	accountID := r.Header.Get(AccountIDHeader)
	if accountID == "" {
		return nil, fmt.Errorf("%w: missing %s header", ErrInvalidSession, AccountIDHeader)
	}
	return &Identity{AccountID: accountID, Source: SourceSharedKey}, nil
}
