// Package metrics exposes Prometheus counters for grants, token issuance and
// vouch decisions. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "simpleauth"

// Metrics holds the service counters registered on its own registry
type Metrics struct {
	registry     *prometheus.Registry
	grants       *prometheus.CounterVec
	tokensIssued *prometheus.CounterVec
	tokenErrors  *prometheus.CounterVec
	revocations  *prometheus.CounterVec
	vouch        *prometheus.CounterVec
}

// New creates the counters and registers them, with the Go and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		grants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oauth2",
			Name:      "grants_total",
			Help:      "Authorization code requests by client and outcome.",
		}, []string{"client_id", "result"}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oauth2",
			Name:      "tokens_issued_total",
			Help:      "Token sets issued by client and grant type.",
		}, []string{"client_id", "grant_type"}),
		tokenErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oauth2",
			Name:      "token_errors_total",
			Help:      "Rejected token requests by grant type and error code.",
		}, []string{"grant_type", "error"}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oauth2",
			Name:      "tokens_revoked_total",
			Help:      "Tokens revoked by client.",
		}, []string{"client_id"}),
		vouch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vouch",
			Name:      "requests_total",
			Help:      "Forward-auth decisions by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.grants, m.tokensIssued, m.tokenErrors, m.revocations, m.vouch,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) GrantRequested(clientID, result string) {
	if m == nil {
		return
	}
	m.grants.WithLabelValues(clientID, result).Inc()
}

func (m *Metrics) TokenIssued(clientID, grantType string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(clientID, grantType).Inc()
}

func (m *Metrics) TokenRejected(grantType, code string) {
	if m == nil {
		return
	}
	m.tokenErrors.WithLabelValues(grantType, code).Inc()
}

func (m *Metrics) TokensRevoked(clientID string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.revocations.WithLabelValues(clientID).Add(float64(n))
}

func (m *Metrics) Vouched(result string) {
	if m == nil {
		return
	}
	m.vouch.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
