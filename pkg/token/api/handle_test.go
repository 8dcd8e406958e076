package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zix99/simple-auth/pkg/account"
	"github.com/zix99/simple-auth/pkg/authcode"
	saerrors "github.com/zix99/simple-auth/pkg/errors"
	"github.com/zix99/simple-auth/pkg/grant"
	"github.com/zix99/simple-auth/pkg/introspection"
	"github.com/zix99/simple-auth/pkg/oauth2client"
	"github.com/zix99/simple-auth/pkg/sessions"
	"github.com/zix99/simple-auth/pkg/token"
	"golang.org/x/crypto/bcrypt"
)

const (
	redirectURI = "http://example.com/redirect"
	sharedKey   = "api-secret"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	clients, err := oauth2client.NewRegistry([]oauth2client.ClientConfig{{
		ID:           "testid",
		Secret:       "client-secret",
		Name:         "Test Client",
		Author:       "Tester",
		AuthorURL:    "http://example.com",
		RedirectURIs: []string{redirectURI},
		Scopes:       []string{"a", "b"},
	}, {
		ID:           "anonymous",
		Secret:       "other-secret",
		RedirectURIs: []string{redirectURI},
	}}, oauth2client.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)

	accounts := account.NewInMemoryStore().WithBcryptCost(bcrypt.MinCost)
	require.NoError(t, accounts.AddAccount(account.Config{ID: "acc-1", Username: "bob", Password: "hunter22"}))

	codes := authcode.NewIssuer(clients, grant.NewInMemoryRepository(), authcode.NewInMemoryRepository())
	repo := token.NewInMemoryRepository()
	engine := token.NewEngine(clients, codes, accounts, repo)
	h := NewHandle(codes, engine, introspection.NewService(repo), clients)

	r := chi.NewRouter()
	r.Route("/oauth2", func(r chi.Router) {
		h.Routes(r, sessions.Required(sessions.NewSharedKeyAuthenticator(sharedKey)), nil)
	})
	return r
}

func do(t *testing.T, h http.Handler, method, target string, body string, contentType string, session bool) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	if session {
		r.Header.Set("Authorization", "SharedKey "+sharedKey)
		r.Header.Set(sessions.AccountIDHeader, "acc-1")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	var out map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func postJSON(t *testing.T, h http.Handler, target string, body map[string]interface{}, session bool) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	return do(t, h, http.MethodPost, target, string(b), "application/json", session)
}

func postForm(t *testing.T, h http.Handler, target string, values url.Values) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	return do(t, h, http.MethodPost, target, values.Encode(), "application/x-www-form-urlencoded", false)
}

func grantCode(t *testing.T, h http.Handler) string {
	t.Helper()
	w, body := postJSON(t, h, "/oauth2/grant", map[string]interface{}{
		"client_id": "testid", "response_type": "code", "scope": "a", "redirect_uri": redirectURI, "state": "statetoken",
	}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return body["code"].(string)
}

func TestGrantAndExchange(t *testing.T) {
	h := newTestRouter(t)

	w, body := postJSON(t, h, "/oauth2/grant", map[string]interface{}{
		"client_id": "testid", "response_type": "code", "scope": "a", "redirect_uri": redirectURI, "state": "statetoken",
	}, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "statetoken", body["state"])
	code := body["code"].(string)
	assert.Len(t, code, 6)

	exchange := map[string]interface{}{
		"grant_type": "authorization_code", "code": code, "redirect_uri": redirectURI,
		"client_id": "testid", "client_secret": "client-secret",
	}
	w, body = postJSON(t, h, "/oauth2/token", exchange, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["refresh_token"])
	assert.Equal(t, "bearer", body["token_type"])
	assert.EqualValues(t, 3600, body["expires_in"])
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	w, body = postJSON(t, h, "/oauth2/token", exchange, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_grant", body["error"])
}

func TestGrant_Errors(t *testing.T) {
	h := newTestRouter(t)

	tests := []struct {
		name   string
		body   map[string]interface{}
		status int
		code   string
	}{
		{"invalid scope", map[string]interface{}{"client_id": "testid", "scope": "a c", "redirect_uri": redirectURI}, http.StatusBadRequest, "invalid_scope"},
		{"invalid client", map[string]interface{}{"client_id": "nope", "scope": "a", "redirect_uri": redirectURI}, http.StatusBadRequest, "invalid_client"},
		{"auto before consent", map[string]interface{}{"client_id": "testid", "scope": "a", "redirect_uri": redirectURI, "auto": true}, http.StatusBadRequest, "no_consent"},
		{"bad response type", map[string]interface{}{"client_id": "testid", "response_type": "token", "redirect_uri": redirectURI}, http.StatusBadRequest, "unsupported_response_type"},
		{"bad auto", map[string]interface{}{"client_id": "testid", "redirect_uri": redirectURI, "auto": "maybe"}, http.StatusBadRequest, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := postJSON(t, h, "/oauth2/grant", tt.body, true)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, body["error"])
		})
	}

	t.Run("requires session", func(t *testing.T) {
		w, body := postJSON(t, h, "/oauth2/grant", map[string]interface{}{"client_id": "testid", "redirect_uri": redirectURI}, false)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "unauthorized", body["error"])
	})
}

func TestToken_FormAndBasicAuth(t *testing.T) {
	h := newTestRouter(t)

	r := httptest.NewRequest(http.MethodPost, "/oauth2/token", strings.NewReader(url.Values{
		"grant_type": {"password"}, "username": {"bob"}, "password": {"hunter22"}, "scope": {"a b"},
	}.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.SetBasicAuth("testid", "client-secret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var set token.TokenSet
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &set))
	assert.NotEmpty(t, set.RefreshToken)
	assert.Equal(t, "a b", set.Scope)

	w, body := postForm(t, h, "/oauth2/token", url.Values{
		"grant_type": {"refresh_token"}, "refresh_token": {set.RefreshToken},
		"client_id": {"testid"}, "client_secret": {"client-secret"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, body["access_token"])
	assert.NotContains(t, body, "refresh_token")

	w, body = postForm(t, h, "/oauth2/token", url.Values{
		"grant_type": {"refresh_token"}, "refresh_token": {set.RefreshToken},
		"client_id": {"testid"}, "client_secret": {"client-secret"},
	})
	require.Equal(t, http.StatusOK, w.Code, "refresh token stays usable")

	w, body = postForm(t, h, "/oauth2/token", url.Values{
		"grant_type": {"password"}, "username": {"bob"}, "password": {"hunter22"}, "scope": {"a c"},
		"client_id": {"testid"}, "client_secret": {"client-secret"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_scope", body["error"])

	w, body = postForm(t, h, "/oauth2/token", url.Values{
		"grant_type": {"password"}, "username": {"bob"}, "password": {"wrong"},
		"client_id": {"testid"}, "client_secret": {"client-secret"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "access_denied", body["error"])
}

func TestParseGrantRequest(t *testing.T) {
	totp := "123456"
	tests := []struct {
		name   string
		params url.Values
		want   token.GrantRequest
		code   saerrors.ErrorCode
	}{
		{"code", url.Values{"grant_type": {"authorization_code"}, "code": {"1"}, "redirect_uri": {"u"}}, token.AuthorizationCodeGrant{Code: "1", RedirectURI: "u"}, ""},
		{"refresh", url.Values{"grant_type": {"refresh_token"}, "refresh_token": {"r"}}, token.RefreshTokenGrant{RefreshToken: "r"}, ""},
		{"password", url.Values{"grant_type": {"password"}, "username": {"u"}, "password": {"p"}, "scope": {"a"}}, token.PasswordGrant{Username: "u", Password: "p", Scope: "a"}, ""},
		{"password totp", url.Values{"grant_type": {"password"}, "username": {"u"}, "password": {"p"}, "totp": {totp}}, token.PasswordGrant{Username: "u", Password: "p", TOTP: &totp}, ""},
		{"missing grant type", url.Values{}, nil, "invalid_request"},
		{"missing code", url.Values{"grant_type": {"authorization_code"}, "redirect_uri": {"u"}}, nil, "invalid_request"},
		{"missing refresh", url.Values{"grant_type": {"refresh_token"}}, nil, "invalid_request"},
		{"unsupported", url.Values{"grant_type": {"client_credentials"}}, nil, "unsupported_grant_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseGrantRequest(tt.params)
			if tt.code != "" {
				require.Error(t, err)
				assert.Equal(t, tt.code, saerrors.GetCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTokenInfo(t *testing.T) {
	h := newTestRouter(t)

	w, body := postJSON(t, h, "/oauth2/token", map[string]interface{}{
		"grant_type": "authorization_code", "code": grantCode(t, h), "redirect_uri": redirectURI,
		"client_id": "testid", "client_secret": "client-secret",
	}, false)
	require.Equal(t, http.StatusOK, w.Code)
	access := body["access_token"].(string)

	w, body = postForm(t, h, "/oauth2/token_info", url.Values{"token": {access}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["active"])
	assert.Equal(t, "access_token", body["token_type"])
	assert.Equal(t, "acc-1", body["sub"])
	assert.Equal(t, "testid", body["aud"])
	assert.Equal(t, "simple-auth", body["iss"])

	for _, payload := range []string{`{"token":"unknown"}`, `{}`, `not json`} {
		w, body = do(t, h, http.MethodPost, "/oauth2/token_info", payload, "application/json", false)
		assert.Equal(t, http.StatusOK, w.Code, payload)
		assert.Equal(t, map[string]interface{}{"active": false}, body)
	}
}

func TestListAndRevoke(t *testing.T) {
	h := newTestRouter(t)
	w, set := postJSON(t, h, "/oauth2/token", map[string]interface{}{
		"grant_type": "authorization_code", "code": grantCode(t, h), "redirect_uri": redirectURI,
		"client_id": "testid", "client_secret": "client-secret",
	}, false)
	require.Equal(t, http.StatusOK, w.Code)

	w, body := do(t, h, http.MethodGet, "/oauth2", "", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	tokens := body["tokens"].([]interface{})
	assert.Len(t, tokens, 2)
	first := tokens[0].(map[string]interface{})
	assert.Equal(t, "testid", first["client_id"])
	assert.Len(t, first["short_token"], 5)

	w, _ = do(t, h, http.MethodDelete, "/oauth2/token?client_id=testid&token="+set["access_token"].(string), "", "", true)
	assert.Equal(t, http.StatusOK, w.Code)
	_, body = do(t, h, http.MethodGet, "/oauth2?client_id=testid", "", "", true)
	assert.Len(t, body["tokens"], 1)

	w, _ = do(t, h, http.MethodDelete, "/oauth2/token?client_id=testid", "", "", true)
	assert.Equal(t, http.StatusOK, w.Code)
	_, body = do(t, h, http.MethodGet, "/oauth2", "", "", true)
	assert.Empty(t, body["tokens"])

	w, body = do(t, h, http.MethodDelete, "/oauth2/token", "", "", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", body["error"])

	w, _ = do(t, h, http.MethodGet, "/oauth2", "", "", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestClientInfo(t *testing.T) {
	h := newTestRouter(t)

	w, body := do(t, h, http.MethodGet, "/oauth2/client/testid", "", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{
		"name":       "Test Client",
		"author":     "Tester",
		"author_url": "http://example.com",
	}, body)

	w, body = do(t, h, http.MethodGet, "/oauth2/client/anonymous", "", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{
		"name":       "",
		"author":     "",
		"author_url": "",
	}, body)

	w, body = do(t, h, http.MethodGet, "/oauth2/client/nope", "", "", false)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "invalid_client", body["error"])
}
