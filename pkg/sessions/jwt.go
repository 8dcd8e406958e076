package sessions

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/jwtauth/v5"
	"github.com/golang-jwt/jwt/v5"
)

const DefaultCookieName = "auth"

// NewJWTAuth builds the session verifier. HS* methods take the raw secret,
// RS* methods a PEM encoded RSA private key.
func NewJWTAuth(method, key string) (*jwtauth.JWTAuth, error) {
	alg := strings.ToUpper(method)
	if key == "" {
		return nil, errors.New("session signing key is required")
	}
	switch {
	case strings.HasPrefix(alg, "HS"):
		return jwtauth.New(alg, []byte(key), nil), nil
	case strings.HasPrefix(alg, "RS"):
		privateKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(key))
		if err != nil {
			return nil, fmt.Errorf("failed to parse session key: %w", err)
		}
		return jwtauth.New(alg, privateKey, &privateKey.PublicKey), nil
	default:
		return nil, fmt.Errorf("unsupported session signing method: %s", method)
	}
}

// JWTAuthenticator accepts a session JWT from the session cookie or a Bearer
// Authorization header. The account id is the sub claim.
type JWTAuthenticator struct {
	ja         *jwtauth.JWTAuth
	cookieName string
}

func NewJWTAuthenticator(ja *jwtauth.JWTAuth, cookieName string) *JWTAuthenticator {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &JWTAuthenticator{ja: ja, cookieName: cookieName}
}

func (a *JWTAuthenticator) tokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(a.cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return jwtauth.TokenFromHeader(r)
}

func (a *JWTAuthenticator) Authenticate(r *http.Request) (*Identity, error) {
	raw := a.tokenFromRequest(r)
	if raw == "" {
		return nil, ErrNoCredentials
	}
	token, err := jwtauth.VerifyToken(a.ja, raw)
	if err != nil {
		slog.Debug("Session token rejected", "err", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if token.Subject() == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidSession)
	}
	return &Identity{AccountID: token.Subject(), Source: SourceSession}, nil
}
