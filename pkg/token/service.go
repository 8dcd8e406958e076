// Package token mints, refreshes, lists and revokes the opaque access and
// refresh tokens handed to OAuth2 clients.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/zix99/simple-auth/pkg/account"
	"github.com/zix99/simple-auth/pkg/authcode"
	saerrors "github.com/zix99/simple-auth/pkg/errors"
	"github.com/zix99/simple-auth/pkg/metrics"
	"github.com/zix99/simple-auth/pkg/oauth2client"
	"github.com/zix99/simple-auth/pkg/scope"
	"github.com/zix99/simple-auth/pkg/tokengenerator"
)

const (
	DefaultAccessTokenTTL  = time.Hour
	DefaultRefreshTokenTTL = 100 * 365 * 24 * time.Hour
	DefaultIssuer          = "simple-auth"

	TokenTypeBearer = "bearer"

	// Scopes that add profile claims to the id_token
	ScopeEmail = "email"
	ScopeName  = "username"
)

// ClientAuthenticator is the part of the client registry the engine needs
type ClientAuthenticator interface {
	GetClient(ctx context.Context, clientID string) (*oauth2client.Client, error)
	ValidateClientCredentials(ctx context.Context, clientID, clientSecret string) (*oauth2client.Client, error)
}

// CodeRedeemer consumes authorization codes exactly once
type CodeRedeemer interface {
	Redeem(ctx context.Context, code, clientID, redirectURI string) (*authcode.AuthorizationCode, error)
}

// Engine implements the token endpoint grants and token management
type Engine struct {
	clients    ClientAuthenticator
	codes      CodeRedeemer
	accounts   account.Store
	repository Repository
	signer     *tokengenerator.Signer
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Option is a function that configures an Engine
type Option func(*Engine)

func WithAccessTokenTTL(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.accessTTL = d
		}
	}
}

func WithRefreshTokenTTL(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.refreshTTL = d
		}
	}
}

// WithIssuer sets the iss claim of id tokens
func WithIssuer(issuer string) Option {
	return func(e *Engine) {
		if issuer != "" {
			e.issuer = issuer
		}
	}
}

// WithIDTokenSigner enables id tokens for clients that ask for them
func WithIDTokenSigner(signer *tokengenerator.Signer) Option {
	return func(e *Engine) {
		e.signer = signer
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock overrides time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a new Engine
func NewEngine(clients ClientAuthenticator, codes CodeRedeemer, accounts account.Store, repository Repository, opts ...Option) *Engine {
	e := &Engine{
		clients:    clients,
		codes:      codes,
		accounts:   accounts,
		repository: repository,
		issuer:     DefaultIssuer,
		accessTTL:  DefaultAccessTokenTTL,
		refreshTTL: DefaultRefreshTokenTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Issuer is the iss value of id tokens and introspection responses
func (e *Engine) Issuer() string {
	return e.issuer
}

// Exchange runs the grant against the authenticated client
func (e *Engine) Exchange(ctx context.Context, creds ClientCredentials, req GrantRequest) (*TokenSet, error) {
	var set *TokenSet
	var err error
	switch g := req.(type) {
	case AuthorizationCodeGrant:
		set, err = e.ExchangeAuthorizationCode(ctx, g.Code, creds.ClientID, creds.ClientSecret, g.RedirectURI)
	case RefreshTokenGrant:
		set, err = e.ExchangeRefreshToken(ctx, g.RefreshToken, creds.ClientID, creds.ClientSecret)
	case PasswordGrant:
		set, err = e.ExchangePasswordCredentials(ctx, g.Username, g.Password, g.TOTP, creds.ClientID, creds.ClientSecret, g.Scope)
	default:
		return nil, saerrors.New(saerrors.ErrCodeUnsupportedGrantType, "unsupported grant_type")
	}
	if err != nil {
		e.metrics.TokenRejected(string(req.GrantType()), string(saerrors.GetCode(err)))
		return nil, err
	}
	e.metrics.TokenIssued(creds.ClientID, string(req.GrantType()))
	return set, nil
}

// ExchangeAuthorizationCode redeems a code for a new token set
func (e *Engine) ExchangeAuthorizationCode(ctx context.Context, code, clientID, clientSecret, redirectURI string) (*TokenSet, error) {
	client, err := e.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}
	// The code is consumed before any token is stored. A failed store leaves
	// it burned and issues nothing; the caller has to request a new grant.
	redeemed, err := e.codes.Redeem(ctx, code, client.ID, redirectURI)
	if err != nil {
		return nil, err
	}
	return e.issue(ctx, client, redeemed.AccountID, redeemed.Scope)
}

// ExchangeRefreshToken mints a new access token in the chain of refreshToken.
// The response never carries a refresh token; the presented one stays usable.
func (e *Engine) ExchangeRefreshToken(ctx context.Context, refreshToken, clientID, clientSecret string) (*TokenSet, error) {
	client, err := e.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}
	if refreshToken == "" {
		return nil, saerrors.InvalidRequest("refresh_token is required")
	}

	now := e.now().UTC()
	head, err := e.repository.GetToken(ctx, refreshToken)
	if errors.Is(err, ErrNotFound) {
		return nil, saerrors.InvalidGrant("invalid refresh token")
	} else if err != nil {
		return nil, fmt.Errorf("failed to load refresh token: %w", err)
	}
	switch {
	case head.Kind != KindRefresh:
		return nil, saerrors.InvalidGrant("invalid refresh token")
	case head.IsRevoked():
		return nil, saerrors.InvalidGrant("refresh token revoked")
	case head.IsExpired(now):
		return nil, saerrors.InvalidGrant("refresh token expired")
	case head.ClientID != client.ID:
		return nil, saerrors.InvalidGrant("refresh token was issued to another client")
	}

	access := e.newToken(KindAccess, client, head.AccountID, head.Scope, now, e.accessTTLFor(client))
	revoked, err := e.repository.Refresh(ctx, head.ID, access, client.SingleIssue, now)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrChainInactive) {
		return nil, saerrors.InvalidGrant("refresh token is no longer valid")
	} else if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	e.metrics.TokensRevoked(client.ID, revoked)

	slog.Info("Refreshed access token", "client_id", client.ID, "account_id", head.AccountID,
		"chain", head.ShortToken(), "generation", access.Generation, "revoked", revoked)

	set := e.tokenSet(access, nil)
	set.IDToken = e.idToken(ctx, client, head.AccountID, head.Scope, now)
	return set, nil
}

// ExchangePasswordCredentials authenticates a resource owner against the
// Account Store and issues a token set, always including a refresh token.
func (e *Engine) ExchangePasswordCredentials(ctx context.Context, identifier, password string, totp *string, clientID, clientSecret, scopeStr string) (*TokenSet, error) {
	client, err := e.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}
	if !client.AllowCredentials {
		return nil, saerrors.New(saerrors.ErrCodeUnauthorizedClient, "password grant is disabled for this client")
	}
	requested := scope.Parse(scopeStr)
	if !client.ValidateScope(requested) {
		return nil, saerrors.InvalidScope("requested scope exceeds the client's allowed scope")
	}
	if identifier == "" || password == "" {
		return nil, saerrors.InvalidRequest("username and password are required")
	}

	acct, err := e.accounts.Authenticate(ctx, identifier, password, totp)
	if errors.Is(err, account.ErrInvalidCredentials) || errors.Is(err, account.ErrNotFound) {
		slog.Info("Password grant rejected", "client_id", client.ID)
		return nil, saerrors.New(saerrors.ErrCodeAccessDenied, "invalid credentials")
	} else if err != nil {
		return nil, saerrors.Wrap(err, saerrors.ErrCodeTemporarilyUnavailable, "account store unavailable")
	}
	return e.issue(ctx, client, acct.ID, requested)
}

// RevokeTokens revokes every token of the pair, or only the one matching
// value. Revoking a refresh token of a single-issue client also revokes the
// access tokens of its chain.
func (e *Engine) RevokeTokens(ctx context.Context, accountID, clientID, value string) error {
	client, err := e.clients.GetClient(ctx, clientID)
	if err != nil {
		return saerrors.Wrap(err, saerrors.ErrCodeInvalidClient, "unknown client")
	}
	n, err := e.repository.Revoke(ctx, accountID, client.ID, value, client.SingleIssue, e.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to revoke tokens: %w", err)
	}
	e.metrics.TokensRevoked(client.ID, n)
	slog.Info("Revoked tokens", "client_id", client.ID, "account_id", accountID, "single", value != "", "count", n)
	return nil
}

// ListTokens returns the live tokens of an account; clientID narrows the list to one client.
func (e *Engine) ListTokens(ctx context.Context, accountID, clientID string) ([]TokenInfo, error) {
	tokens, err := e.repository.ListLive(ctx, accountID, clientID, e.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	ret := make([]TokenInfo, 0, len(tokens))
	for _, t := range tokens {
		info := TokenInfo{
			ClientID:   t.ClientID,
			ShortToken: t.ShortToken(),
			Type:       t.Kind,
			Created:    t.IssuedAt,
			Expires:    t.ExpiresAt,
		}
		if client, err := e.clients.GetClient(ctx, t.ClientID); err == nil {
			info.ClientName = client.Name
		}
		ret = append(ret, info)
	}
	return ret, nil
}

// PruneExpired removes tokens that expired before the given time
func (e *Engine) PruneExpired(ctx context.Context, before time.Time) (int64, error) {
	return e.repository.DeleteExpired(ctx, before)
}

func (e *Engine) authenticateClient(ctx context.Context, clientID, clientSecret string) (*oauth2client.Client, error) {
	if clientID == "" {
		return nil, saerrors.InvalidClient("client_id is required")
	}
	client, err := e.clients.ValidateClientCredentials(ctx, clientID, clientSecret)
	if err != nil {
		slog.Info("Client authentication failed", "client_id", clientID, "err", err)
		return nil, saerrors.Wrap(err, saerrors.ErrCodeInvalidClient, "client authentication failed")
	}
	return client, nil
}

// issue mints a fresh access and refresh token pair, or hands back live
// tokens with the same scope to clients configured to reuse them.
func (e *Engine) issue(ctx context.Context, client *oauth2client.Client, accountID string, sc scope.Set) (*TokenSet, error) {
	now := e.now().UTC()

	if client.ReuseToken && !client.SingleIssue {
		set, err := e.reuse(ctx, client, accountID, sc, now)
		if err != nil {
			return nil, err
		}
		if set != nil {
			set.IDToken = e.idToken(ctx, client, accountID, sc, now)
			return set, nil
		}
	}

	refresh := e.newToken(KindRefresh, client, accountID, sc, now, e.refreshTTL)
	refresh.ChainID = refresh.ID
	access := e.newToken(KindAccess, client, accountID, sc, now, e.accessTTLFor(client))
	access.ChainID = refresh.ID

	revoked, err := e.repository.IssueSet(ctx, []*Token{refresh, access}, client.SingleIssue, now)
	if err != nil {
		return nil, fmt.Errorf("failed to store tokens: %w", err)
	}
	e.metrics.TokensRevoked(client.ID, revoked)

	slog.Info("Issued tokens", "client_id", client.ID, "account_id", accountID,
		"scope", sc.String(), "access", access.ShortToken(), "revoked", revoked)

	set := e.tokenSet(access, refresh)
	set.IDToken = e.idToken(ctx, client, accountID, sc, now)
	return set, nil
}

func (e *Engine) reuse(ctx context.Context, client *oauth2client.Client, accountID string, sc scope.Set, now time.Time) (*TokenSet, error) {
	live, err := e.repository.ListLive(ctx, accountID, client.ID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list live tokens: %w", err)
	}
	var access, refresh *Token
	for _, t := range live {
		if !t.Scope.Matches(sc) {
			continue
		}
		switch {
		case t.Kind == KindAccess && access == nil:
			access = t
		case t.Kind == KindRefresh && refresh == nil:
			refresh = t
		}
	}
	if access == nil || refresh == nil {
		return nil, nil
	}
	slog.Debug("Reusing live tokens", "client_id", client.ID, "account_id", accountID, "access", access.ShortToken())
	set := e.tokenSet(access, refresh)
	set.ExpiresIn = int(access.ExpiresAt.Sub(now).Seconds())
	return set, nil
}

func (e *Engine) newToken(kind Kind, client *oauth2client.Client, accountID string, sc scope.Set, now time.Time, ttl time.Duration) *Token {
	return &Token{
		ID:        uuid.NewString(),
		Kind:      kind,
		Value:     uuid.NewString(),
		ClientID:  client.ID,
		AccountID: accountID,
		Scope:     sc,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

func (e *Engine) accessTTLFor(client *oauth2client.Client) time.Duration {
	if client.AccessTokenTTL > 0 {
		return client.AccessTokenTTL
	}
	return e.accessTTL
}

func (e *Engine) tokenSet(access, refresh *Token) *TokenSet {
	set := &TokenSet{
		AccessToken: access.Value,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int(access.ExpiresAt.Sub(access.IssuedAt).Seconds()),
		Scope:       access.Scope.String(),
	}
	if refresh != nil {
		set.RefreshToken = refresh.Value
	}
	return set
}

// idToken returns a signed id_token for clients that issue one. Signing
// failures are logged and leave the id_token out.
func (e *Engine) idToken(ctx context.Context, client *oauth2client.Client, accountID string, sc scope.Set, now time.Time) string {
	if !client.IssuesIDToken {
		return ""
	}
	if e.signer == nil {
		slog.Warn("Client requests id tokens but no signing key is configured", "client_id", client.ID)
		return ""
	}

	req := tokengenerator.IDTokenRequest{
		Issuer:    e.issuer,
		Subject:   accountID,
		Audience:  client.ID,
		IssuedAt:  now,
		ExpiresAt: now.Add(e.accessTTLFor(client)),
	}
	if sc.Contains(ScopeEmail) || sc.Contains(ScopeName) {
		acct, err := e.accounts.GetAccount(ctx, accountID)
		if err != nil {
			slog.Warn("Failed to load account for id token claims", "account_id", accountID, "err", err)
		} else {
			if sc.Contains(ScopeEmail) {
				req.Email = acct.Email
			}
			if sc.Contains(ScopeName) {
				req.Name = acct.Name
			}
		}
	}

	signed, err := e.signer.SignIDToken(req)
	if err != nil {
		slog.Error("Failed to sign id token", "client_id", client.ID, "err", err)
		return ""
	}
	return signed
}
