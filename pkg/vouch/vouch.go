// Package vouch answers forward-auth requests from reverse proxies such as
// nginx auth_request and traefik ForwardAuth.
package vouch

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"

	"github.com/go-chi/render"
	saerrors "github.com/zix99/simple-auth/pkg/errors"
	"github.com/zix99/simple-auth/pkg/metrics"
	"github.com/zix99/simple-auth/pkg/sessions"
)

const (
	DefaultUserHeader = "X-User-Id"
	DefaultLoginURL   = "/"

	headerForwardedHost  = "X-Forwarded-Host"
	headerForwardedProto = "X-Forwarded-Proto"
	headerForwardedURI   = "X-Forwarded-Uri"
)

type Config struct {
	// LoginURL receives unauthenticated users when forward is requested
	LoginURL string
	// UserHeader carries the account id on authorized responses
	UserHeader string
	// AllowedContinueURLs are regular expressions, anchored at both ends, an
	// explicit continue parameter must match. Empty allows any.
	AllowedContinueURLs []string
}

// Decision is the outcome for one request
type Decision struct {
	Authorized bool
	AccountID  string
}

type Service struct {
	authenticator sessions.Authenticator
	loginURL      string
	userHeader    string
	allowed       []*regexp.Regexp
	metrics       *metrics.Metrics
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func NewService(authenticator sessions.Authenticator, cfg Config, opts ...Option) (*Service, error) {
	s := &Service{
		authenticator: authenticator,
		loginURL:      cfg.LoginURL,
		userHeader:    cfg.UserHeader,
	}
	if s.loginURL == "" {
		s.loginURL = DefaultLoginURL
	}
	if _, err := url.Parse(s.loginURL); err != nil {
		return nil, fmt.Errorf("invalid vouch login url: %w", err)
	}
	if s.userHeader == "" {
		s.userHeader = DefaultUserHeader
	}
	for _, expr := range cfg.AllowedContinueURLs {
		re, err := compileBounded(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid continue url expression %q: %w", expr, err)
		}
		s.allowed = append(s.allowed, re)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func compileBounded(expr string) (*regexp.Regexp, error) {
	if expr == "" || expr[0] != '^' {
		expr = "^" + expr
	}
	if expr[len(expr)-1] != '$' {
		expr += "$"
	}
	return regexp.Compile(expr)
}

// Decide authenticates the request's session
func (s *Service) Decide(r *http.Request) Decision {
	id, err := s.authenticator.Authenticate(r)
	if err != nil {
		return Decision{}
	}
	return Decision{Authorized: true, AccountID: id.AccountID}
}

// ContinueURL is where the user should land after logging in: the explicit
// continue parameter when allowed, otherwise the original request rebuilt
// from the proxy's X-Forwarded-* headers. Empty when neither is known.
func (s *Service) ContinueURL(r *http.Request) string {
	if asked := r.URL.Query().Get("continue"); asked != "" {
		if s.continueAllowed(asked) {
			return asked
		}
		slog.Warn("Rejected continue url", "continue", asked)
	}

	host := r.Header.Get(headerForwardedHost)
	if host == "" {
		return ""
	}
	proto := r.Header.Get(headerForwardedProto)
	if proto == "" {
		proto = "http"
	}
	return proto + "://" + host + r.Header.Get(headerForwardedURI)
}

func (s *Service) continueAllowed(asked string) bool {
	if len(s.allowed) == 0 {
		return true
	}
	for _, re := range s.allowed {
		if re.MatchString(asked) {
			return true
		}
	}
	return false
}

func (s *Service) redirectURL(continueURL string) string {
	u, err := url.Parse(s.loginURL)
	if err != nil {
		return s.loginURL
	}
	if continueURL != "" {
		q := u.Query()
		q.Set("continue", continueURL)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// HandleVouchRequest answers 200 with the identity header for a valid
// session. Otherwise it answers 401, or with ?forward set, 307 to the login
// url carrying the continue url.
func (s *Service) HandleVouchRequest(w http.ResponseWriter, r *http.Request) {
	d := s.Decide(r)
	if d.Authorized {
		s.metrics.Vouched("authorized")
		w.Header().Set(s.userHeader, d.AccountID)
		render.JSON(w, r, map[string]bool{"ok": true})
		return
	}

	if r.URL.Query().Get("forward") != "" {
		s.metrics.Vouched("redirect")
		target := s.redirectURL(s.ContinueURL(r))
		slog.Debug("Vouch redirecting to login", "location", target)
		http.Redirect(w, r, target, http.StatusTemporaryRedirect)
		return
	}

	s.metrics.Vouched("unauthorized")
	saerrors.Render(w, r, saerrors.Unauthorized("no valid session"))
}
