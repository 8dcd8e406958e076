// Package introspection reports whether an opaque token is currently valid.
// An invalid token is ordinary data: Introspect never returns an error.
package introspection

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/zix99/simple-auth/pkg/token"
)

// TokenGetter loads a stored token by value
type TokenGetter interface {
	GetToken(ctx context.Context, value string) (*token.Token, error)
}

// Result follows RFC 7662. Only Active is set for invalid tokens.
type Result struct {
	Active    bool   `json:"active"`
	TokenType string `json:"token_type,omitempty"`
	Scope     string `json:"scope,omitempty"`
	Subject   string `json:"sub,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Audience  string `json:"aud,omitempty"`
	Issuer    string `json:"iss,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
}

type Service struct {
	tokens TokenGetter
	issuer string
	now    func() time.Time
}

type Option func(*Service)

func WithIssuer(issuer string) Option {
	return func(s *Service) {
		if issuer != "" {
			s.issuer = issuer
		}
	}
}

// WithClock overrides time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(tokens TokenGetter, opts ...Option) *Service {
	s := &Service{
		tokens: tokens,
		issuer: token.DefaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Introspect returns the active claims of value, or {active:false} for
// unknown, expired and revoked tokens. Store failures are logged and
// reported as inactive.
func (s *Service) Introspect(ctx context.Context, value string) Result {
	if value == "" {
		return Result{}
	}
	t, err := s.tokens.GetToken(ctx, value)
	if err != nil {
		if !errors.Is(err, token.ErrNotFound) {
			slog.Error("Token introspection lookup failed", "err", err)
		}
		return Result{}
	}
	if !t.IsActive(s.now()) {
		return Result{}
	}
	return Result{
		Active:    true,
		TokenType: string(t.Kind),
		Scope:     t.Scope.String(),
		Subject:   t.AccountID,
		ClientID:  t.ClientID,
		Audience:  t.ClientID,
		Issuer:    s.issuer,
		IssuedAt:  t.IssuedAt.Unix(),
		ExpiresAt: t.ExpiresAt.Unix(),
	}
}
