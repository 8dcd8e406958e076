// Package ratelimit throttles credential-bearing endpoints per client IP and
// per authenticated account.
package ratelimit

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	saerrors "github.com/zix99/simple-auth/pkg/errors"
	"github.com/zix99/simple-auth/pkg/sessions"
)

// Config holds rate limiting configuration
type Config struct {
	// Per-IP rate limiting
	PerIPEnabled    bool
	PerIPCapacity   int
	PerIPRefillRate float64

	// Per-account rate limiting, for requests that carry a session
	PerAccountEnabled    bool
	PerAccountCapacity   int
	PerAccountRefillRate float64

	// BucketTTL is how long idle buckets are kept in memory
	BucketTTL time.Duration

	// TrustForwardedFor takes the client address from X-Forwarded-For / X-Real-IP
	TrustForwardedFor bool
}

// DefaultConfig allows short bursts of credential attempts, refilling at 10 per minute
func DefaultConfig() Config {
	return Config{
		PerIPEnabled:         true,
		PerIPCapacity:        10,
		PerIPRefillRate:      10.0 / 60.0,
		PerAccountEnabled:    true,
		PerAccountCapacity:   20,
		PerAccountRefillRate: 20.0 / 60.0,
		BucketTTL:            time.Hour,
	}
}

// Middleware holds the rate limiting middleware state
type Middleware struct {
	config         Config
	ipLimiter      *RateLimiter
	accountLimiter *RateLimiter
}

func NewMiddleware(config Config) *Middleware {
	m := &Middleware{config: config}
	if config.PerIPEnabled {
		m.ipLimiter = NewRateLimiter(config.PerIPCapacity, config.PerIPRefillRate, config.BucketTTL)
	}
	if config.PerAccountEnabled {
		m.accountLimiter = NewRateLimiter(config.PerAccountCapacity, config.PerAccountRefillRate, config.BucketTTL)
	}
	return m
}

// Handler returns the rate limiting middleware handler
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := m.clientIP(r)
		if m.ipLimiter != nil && ip != "" && !m.ipLimiter.Allow(ip) {
			m.rateLimitExceeded(w, r, "ip", ip, m.config.PerIPRefillRate)
			return
		}

		accountID := sessions.AccountID(r.Context())
		if m.accountLimiter != nil && accountID != "" && !m.accountLimiter.Allow(accountID) {
			m.rateLimitExceeded(w, r, "account", ip, m.config.PerAccountRefillRate)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) rateLimitExceeded(w http.ResponseWriter, r *http.Request, limitType, ip string, refillRate float64) {
	slog.Warn("Rate limit exceeded", "type", limitType, "ip", ip, "path", r.URL.Path, "method", r.Method)

	retryAfter := 60
	if refillRate > 0 {
		retryAfter = int(math.Ceil(1 / refillRate))
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	saerrors.Render(w, r, saerrors.New(saerrors.ErrCodeRateLimitExceeded, "too many requests, try again later"))
}

// clientIP extracts the client IP address from the request
func (m *Middleware) clientIP(r *http.Request) string {
	if m.config.TrustForwardedFor {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
