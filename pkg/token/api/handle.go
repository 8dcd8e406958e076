// Package api exposes the OAuth2 grant, token, introspection and token
// management endpoints over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/zix99/simple-auth/pkg/authcode"
	saerrors "github.com/zix99/simple-auth/pkg/errors"
	"github.com/zix99/simple-auth/pkg/introspection"
	"github.com/zix99/simple-auth/pkg/oauth2client"
	"github.com/zix99/simple-auth/pkg/scope"
	"github.com/zix99/simple-auth/pkg/sessions"
	"github.com/zix99/simple-auth/pkg/token"
)

// GrantRequester issues authorization codes for consenting accounts
type GrantRequester interface {
	RequestGrant(ctx context.Context, req authcode.GrantRequest) (*authcode.GrantResponse, error)
}

// TokenEngine runs token grants and token management
type TokenEngine interface {
	Exchange(ctx context.Context, creds token.ClientCredentials, req token.GrantRequest) (*token.TokenSet, error)
	RevokeTokens(ctx context.Context, accountID, clientID, value string) error
	ListTokens(ctx context.Context, accountID, clientID string) ([]token.TokenInfo, error)
}

type Introspector interface {
	Introspect(ctx context.Context, value string) introspection.Result
}

type ClientGetter interface {
	GetClient(ctx context.Context, clientID string) (*oauth2client.Client, error)
}

type Handle struct {
	grants       GrantRequester
	tokens       TokenEngine
	introspector Introspector
	clients      ClientGetter
}

func NewHandle(grants GrantRequester, tokens TokenEngine, introspector Introspector, clients ClientGetter) *Handle {
	return &Handle{
		grants:       grants,
		tokens:       tokens,
		introspector: introspector,
		clients:      clients,
	}
}

// Routes mounts the endpoints on r. session guards the account endpoints and
// throttle, when set, the credential-bearing ones.
func (h *Handle) Routes(r chi.Router, session, throttle func(http.Handler) http.Handler) {
	var limited []func(http.Handler) http.Handler
	if throttle != nil {
		limited = append(limited, throttle)
	}

	r.With(limited...).Post("/token", h.Token)
	r.Post("/token_info", h.TokenInfo)
	r.Get("/client/{client_id}", h.ClientInfo)

	r.Group(func(r chi.Router) {
		r.Use(session)
		r.Get("/", h.ListTokens)
		r.Delete("/token", h.RevokeToken)
		r.With(limited...).Post("/grant", h.Grant)
	})
}

func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// Grant handles POST /oauth2/grant for the logged in account
func (h *Handle) Grant(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r)
	if err != nil {
		saerrors.Render(w, r, err)
		return
	}
	if rt := p.Get("response_type"); rt != "" && rt != "code" {
		saerrors.Render(w, r, saerrors.New(saerrors.ErrCodeUnsupportedResponse, "only response_type=code is supported"))
		return
	}
	auto := false
	if v := p.Get("auto"); v != "" {
		if auto, err = strconv.ParseBool(v); err != nil {
			saerrors.Render(w, r, saerrors.InvalidRequest("auto must be a boolean"))
			return
		}
	}

	resp, err := h.grants.RequestGrant(r.Context(), authcode.GrantRequest{
		ClientID:    p.Get("client_id"),
		AccountID:   sessions.AccountID(r.Context()),
		Scope:       scope.Parse(p.Get("scope")),
		RedirectURI: p.Get("redirect_uri"),
		State:       p.Get("state"),
		Auto:        auto,
	})
	if err != nil {
		saerrors.Render(w, r, err)
		return
	}
	noStore(w)
	render.JSON(w, r, resp)
}

// Token handles POST /oauth2/token
func (h *Handle) Token(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r)
	if err != nil {
		saerrors.Render(w, r, err)
		return
	}
	creds, err := clientCredentials(r, p)
	if err != nil {
		saerrors.Render(w, r, err)
		return
	}
	req, err := ParseGrantRequest(p)
	if err != nil {
		saerrors.Render(w, r, err)
		return
	}

	set, err := h.tokens.Exchange(r.Context(), creds, req)
	if err != nil {
		saerrors.Render(w, r, err)
		return
	}
	noStore(w)
	render.JSON(w, r, set)
}

// TokenInfo handles POST /oauth2/token_info. It always answers 200.
func (h *Handle) TokenInfo(w http.ResponseWriter, r *http.Request) {
	var value string
	if p, err := readParams(w, r); err == nil {
		value = p.Get("token")
	} else {
		slog.Debug("Unreadable token_info request", "err", err)
	}
	noStore(w)
	render.JSON(w, r, h.introspector.Introspect(r.Context(), value))
}

type tokenListResponse struct {
	Tokens []token.TokenInfo `json:"tokens"`
}

// ListTokens handles GET /oauth2, optionally filtered by ?client_id
func (h *Handle) ListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.tokens.ListTokens(r.Context(), sessions.AccountID(r.Context()), r.URL.Query().Get("client_id"))
	if err != nil {
		saerrors.Render(w, r, err)
		return
	}
	render.JSON(w, r, tokenListResponse{Tokens: tokens})
}

// RevokeToken handles DELETE /oauth2/token?client_id=&token=
func (h *Handle) RevokeToken(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientID := q.Get("client_id")
	if clientID == "" {
		saerrors.Render(w, r, saerrors.InvalidRequest("client_id is required"))
		return
	}
	if err := h.tokens.RevokeTokens(r.Context(), sessions.AccountID(r.Context()), clientID, q.Get("token")); err != nil {
		saerrors.Render(w, r, err)
		return
	}
	render.JSON(w, r, map[string]bool{"ok": true})
}

type clientInfoResponse struct {
	Name      string `json:"name"`
	Author    string `json:"author"`
	AuthorURL string `json:"author_url"`
}

// ClientInfo handles GET /oauth2/client/{client_id}
func (h *Handle) ClientInfo(w http.ResponseWriter, r *http.Request) {
	client, err := h.clients.GetClient(r.Context(), chi.URLParam(r, "client_id"))
	if errors.Is(err, oauth2client.ErrClientNotFound) {
		saerrors.RenderStatus(w, r, saerrors.InvalidClient("unknown client"), http.StatusNotFound)
		return
	} else if err != nil {
		saerrors.Render(w, r, err)
		return
	}
	render.JSON(w, r, clientInfoResponse{
		Name:      client.Name,
		Author:    client.Author,
		AuthorURL: client.AuthorURL,
	})
}
