package api

import (
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/render"
	saerrors "github.com/zix99/simple-auth/pkg/errors"
	"github.com/zix99/simple-auth/pkg/token"
)

const maxBodyBytes = 1 << 20

// readParams returns the request parameters from a JSON body, a form body
// or the query string. JSON scalars are converted to their string form.
func readParams(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body map[string]interface{}
		if err := render.DecodeJSON(http.MaxBytesReader(w, r.Body, maxBodyBytes), &body); err != nil {
			return nil, saerrors.Wrap(err, saerrors.ErrCodeInvalidRequest, "malformed json body")
		}
		values := r.URL.Query()
		for k, v := range body {
			switch val := v.(type) {
			case nil:
			case string:
				values.Set(k, val)
			case bool:
				values.Set(k, strconv.FormatBool(val))
			case float64:
				values.Set(k, strconv.FormatFloat(val, 'f', -1, 64))
			default:
				return nil, saerrors.Newf(saerrors.ErrCodeInvalidRequest, "parameter %s must be a scalar", k)
			}
		}
		return values, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return nil, saerrors.Wrap(err, saerrors.ErrCodeInvalidRequest, "malformed form body")
	}
	return r.Form, nil
}

// clientCredentials reads client_id/client_secret from HTTP Basic auth or,
// failing that, the request parameters.
func clientCredentials(r *http.Request, p url.Values) (token.ClientCredentials, error) {
	if id, secret, ok := r.BasicAuth(); ok {
		clientID, err := url.QueryUnescape(id)
		if err != nil {
			return token.ClientCredentials{}, saerrors.InvalidClient("malformed basic auth client_id")
		}
		clientSecret, err := url.QueryUnescape(secret)
		if err != nil {
			return token.ClientCredentials{}, saerrors.InvalidClient("malformed basic auth client_secret")
		}
		return token.ClientCredentials{ClientID: clientID, ClientSecret: clientSecret}, nil
	}
	return token.ClientCredentials{
		ClientID:     p.Get("client_id"),
		ClientSecret: p.Get("client_secret"),
	}, nil
}

// ParseGrantRequest maps token endpoint parameters onto the grant variant
// named by grant_type.
func ParseGrantRequest(p url.Values) (token.GrantRequest, error) {
	require := func(names ...string) error {
		for _, name := range names {
			if p.Get(name) == "" {
				return saerrors.InvalidRequest(fmt.Sprintf("%s is required", name))
			}
		}
		return nil
	}

	switch gt := token.GrantType(p.Get("grant_type")); gt {
	case "":
		return nil, saerrors.InvalidRequest("grant_type is required")
	case token.GrantTypeAuthorizationCode:
		if err := require("code", "redirect_uri"); err != nil {
			return nil, err
		}
		return token.AuthorizationCodeGrant{Code: p.Get("code"), RedirectURI: p.Get("redirect_uri")}, nil
	case token.GrantTypeRefreshToken:
		if err := require("refresh_token"); err != nil {
			return nil, err
		}
		return token.RefreshTokenGrant{RefreshToken: p.Get("refresh_token")}, nil
	case token.GrantTypePassword:
		if err := require("username", "password"); err != nil {
			return nil, err
		}
		g := token.PasswordGrant{Username: p.Get("username"), Password: p.Get("password"), Scope: p.Get("scope")}
		if p.Has("totp") {
			totp := p.Get("totp")
			g.TOTP = &totp
		}
		return g, nil
	default:
		return nil, saerrors.Newf(saerrors.ErrCodeUnsupportedGrantType, "unsupported grant_type %q", gt)
	}
}
