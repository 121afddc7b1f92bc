package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "binder_oauth"

// Metrics holds the service collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	codesIssued         *prometheus.CounterVec
	tokensIssued        *prometheus.CounterVec
	tokenErrors         *prometheus.CounterVec
	orphanTokensDeleted prometheus.Counter
	repoAuthSessions    *prometheus.CounterVec
	purged              *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		codesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorization_codes_issued_total",
			Help:      "Authorization codes issued, by client.",
		}, []string{"client_id"}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_tokens_issued_total",
			Help:      "Access tokens issued, by grant type.",
		}, []string{"grant_type"}),
		tokenErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_errors_total",
			Help:      "OAuth2 errors returned by the authorization server, by error code.",
		}, []string{"error"}),
		orphanTokensDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphan_tokens_deleted_total",
			Help:      "Access tokens deleted on lookup because their client no longer exists.",
		}),
		repoAuthSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repoauth_sessions_total",
			Help:      "Delegated repository authorizations, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		purged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purged_records_total",
			Help:      "Expired records removed by maintenance jobs, by kind.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.codesIssued,
		m.tokensIssued,
		m.tokenErrors,
		m.orphanTokensDeleted,
		m.repoAuthSessions,
		m.purged,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) CodeIssued(clientID string) {
	if m == nil {
		return
	}
	m.codesIssued.WithLabelValues(clientID).Inc()
}

func (m *Metrics) TokenIssued(grantType string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(grantType).Inc()
}

func (m *Metrics) TokenError(code string) {
	if m == nil {
		return
	}
	m.tokenErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) OrphanTokenDeleted() {
	if m == nil {
		return
	}
	m.orphanTokensDeleted.Inc()
}

func (m *Metrics) RepoAuth(provider, outcome string) {
	if m == nil {
		return
	}
	m.repoAuthSessions.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) Purged(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.purged.WithLabelValues(kind).Add(float64(n))
}
