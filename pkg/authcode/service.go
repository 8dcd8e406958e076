// Package authcode issues and redeems single-use OAuth2 authorization codes.
package authcode

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	saerrors "github.com/zix99/simple-auth/pkg/errors"
	"github.com/zix99/simple-auth/pkg/grant"
	"github.com/zix99/simple-auth/pkg/metrics"
	"github.com/zix99/simple-auth/pkg/oauth2client"
	"github.com/zix99/simple-auth/pkg/scope"
)

const (
	CodeLength     = 6
	DefaultCodeTTL = 5 * time.Minute

	maxGenerateAttempts = 5
)

// ClientGetter looks up registered clients
type ClientGetter interface {
	GetClient(ctx context.Context, clientID string) (*oauth2client.Client, error)
}

// GrantRequest is a consent decision for an authenticated account.
// Auto asks to reuse an earlier consent without prompting the user.
type GrantRequest struct {
	ClientID    string
	AccountID   string
	Scope       scope.Set
	RedirectURI string
	State       string
	Auto        bool
}

// GrantResponse carries the new code and the caller's state, unchanged.
type GrantResponse struct {
	Code  string `json:"code"`
	State string `json:"state,omitempty"`
}

// Issuer produces authorization codes and redeems them exactly once
type Issuer struct {
	clients    ClientGetter
	grants     grant.Repository
	repository Repository
	codeTTL    time.Duration
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Option is a function that configures an Issuer
type Option func(*Issuer)

// WithCodeTTL sets the default code lifetime; clients may override it
func WithCodeTTL(d time.Duration) Option {
	return func(s *Issuer) {
		if d > 0 {
			s.codeTTL = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Issuer) {
		s.metrics = m
	}
}

// WithClock overrides time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(s *Issuer) {
		s.now = now
	}
}

// NewIssuer creates a new Issuer
func NewIssuer(clients ClientGetter, grants grant.Repository, repository Repository, opts ...Option) *Issuer {
	s := &Issuer{
		clients:    clients,
		grants:     grants,
		repository: repository,
		codeTTL:    DefaultCodeTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestGrant validates the request against the client registration, records
// consent and returns a fresh code.
func (s *Issuer) RequestGrant(ctx context.Context, req GrantRequest) (*GrantResponse, error) {
	resp, err := s.requestGrant(ctx, req)
	if err != nil {
		s.metrics.GrantRequested(req.ClientID, string(saerrors.GetCode(err)))
		return nil, err
	}
	s.metrics.GrantRequested(req.ClientID, "ok")
	return resp, nil
}

func (s *Issuer) requestGrant(ctx context.Context, req GrantRequest) (*GrantResponse, error) {
	client, err := s.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		return nil, saerrors.Wrap(err, saerrors.ErrCodeInvalidClient, "unknown client")
	}
	if !client.ValidateRedirectURI(req.RedirectURI) {
		return nil, saerrors.InvalidRequest("redirect_uri is not registered for this client")
	}
	if !client.ValidateScope(req.Scope) {
		return nil, saerrors.InvalidScope("requested scope exceeds the client's allowed scope")
	}

	if req.Auto {
		if err := s.checkAutoGrant(ctx, client, req); err != nil {
			return nil, err
		}
	} else {
		if _, err := s.grants.UpsertGrant(ctx, req.AccountID, client.ID, req.Scope); err != nil {
			return nil, fmt.Errorf("failed to record grant: %w", err)
		}
	}

	ttl := s.codeTTL
	if client.CodeTTL > 0 {
		ttl = client.CodeTTL
	}

	now := s.now().UTC()
	code := &AuthorizationCode{
		ClientID:    client.ID,
		AccountID:   req.AccountID,
		Scope:       req.Scope,
		RedirectURI: req.RedirectURI,
		State:       req.State,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := s.storeWithFreshCode(ctx, code); err != nil {
		return nil, err
	}

	slog.Info("Issued authorization code", "client_id", client.ID, "account_id", req.AccountID,
		"scope", req.Scope.String(), "auto", req.Auto)
	return &GrantResponse{Code: code.Code, State: req.State}, nil
}

func (s *Issuer) checkAutoGrant(ctx context.Context, client *oauth2client.Client, req GrantRequest) error {
	if !client.AllowAutoGrant {
		return saerrors.New(saerrors.ErrCodeNoConsent, "auto-grant is disabled for this client")
	}
	existing, err := s.grants.GetGrant(ctx, req.AccountID, client.ID)
	if errors.Is(err, grant.ErrNotFound) {
		return saerrors.New(saerrors.ErrCodeNoConsent, "no prior consent for this client")
	} else if err != nil {
		return fmt.Errorf("failed to load grant: %w", err)
	}
	if !existing.Scope.ContainsAll(req.Scope) {
		return saerrors.New(saerrors.ErrCodeNoConsent, "requested scope was not previously granted")
	}
	return nil
}

func (s *Issuer) storeWithFreshCode(ctx context.Context, code *AuthorizationCode) error {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		value, err := generateCode(CodeLength)
		if err != nil {
			return fmt.Errorf("failed to generate code: %w", err)
		}
		code.Code = value
		err = s.repository.CreateCode(ctx, code)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDuplicateCode) {
			return fmt.Errorf("failed to store code: %w", err)
		}
		slog.Debug("Authorization code collision, retrying", "attempt", attempt+1)
	}
	return fmt.Errorf("failed to allocate a unique authorization code after %d attempts", maxGenerateAttempts)
}

// Redeem validates a presented code for the client and consumes it. Any
// failure, including losing a concurrent redemption, is invalid_grant.
func (s *Issuer) Redeem(ctx context.Context, codeValue, clientID, redirectURI string) (*AuthorizationCode, error) {
	if codeValue == "" {
		return nil, saerrors.InvalidRequest("code is required")
	}
	code, err := s.repository.GetCode(ctx, codeValue)
	if errors.Is(err, ErrNotFound) {
		return nil, saerrors.InvalidGrant("invalid authorization code")
	} else if err != nil {
		return nil, fmt.Errorf("failed to load code: %w", err)
	}

	now := s.now().UTC()
	switch {
	case code.IsConsumed():
		slog.Warn("Authorization code replay", "client_id", clientID, "account_id", code.AccountID)
		return nil, saerrors.InvalidGrant("authorization code already used")
	case code.IsExpired(now):
		return nil, saerrors.InvalidGrant("authorization code expired")
	case code.ClientID != clientID:
		return nil, saerrors.InvalidGrant("authorization code was issued to another client")
	case code.RedirectURI != redirectURI:
		return nil, saerrors.InvalidGrant("redirect_uri does not match the authorization request")
	}

	won, err := s.repository.ConsumeCode(ctx, codeValue, now)
	if err != nil {
		return nil, fmt.Errorf("failed to consume code: %w", err)
	}
	if !won {
		return nil, saerrors.InvalidGrant("authorization code already used")
	}
	consumed := now
	code.ConsumedAt = &consumed
	return code, nil
}

// PruneExpired removes codes that expired before the given time
func (s *Issuer) PruneExpired(ctx context.Context, before time.Time) (int64, error) {
	return s.repository.DeleteExpired(ctx, before)
}

func generateCode(digits int) (string, error) {
	const table = "0123456789"
	ret := make([]byte, digits)
	max := big.NewInt(int64(len(table)))
	for i := range ret {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		ret[i] = table[n.Int64()]
	}
	return string(ret), nil
}
