package sessions

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	saerrors "github.com/zix99/simple-auth/pkg/errors"
)

const (
	CSRFCookieName = "_csrf"
	CSRFHeaderName = "X-CSRF-Token"
)

// Required rejects requests without a valid identity with 401 and stores
// the identity in the request context otherwise.
func Required(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := a.Authenticate(r)
			if err != nil {
				slog.Debug("Unauthenticated request", "path", r.URL.Path, "err", err)
				saerrors.Render(w, r, saerrors.Unauthorized("authentication required"))
				return
			}
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), id)))
		})
	}
}

// CSRF is a double-submit check for cookie sessions: unsafe methods must echo
// the _csrf cookie in the X-CSRF-Token header. Safe methods hand out the
// cookie. Shared-key callers are not browsers and are not checked.
func CSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := FromContext(r.Context()); ok && id.Source != SourceSession {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(CSRFCookieName)
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
			if err != nil || cookie.Value == "" {
				http.SetCookie(w, &http.Cookie{
					Name:     CSRFCookieName,
					Value:    uuid.NewString(),
					Path:     "/",
					SameSite: http.SameSiteStrictMode,
				})
			}
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get(CSRFHeaderName)
		if err != nil || cookie.Value == "" || header == "" ||
			subtle.ConstantTimeCompare([]byte(header), []byte(cookie.Value)) != 1 {
			slog.Warn("CSRF check failed", "path", r.URL.Path, "method", r.Method)
			saerrors.Render(w, r, saerrors.Forbidden("missing or invalid csrf token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
