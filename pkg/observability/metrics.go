package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Token service metrics
	TokensIssuedTotal     *prometheus.CounterVec
	TokenRotationsTotal   *prometheus.CounterVec
	TokenReuseDetected    prometheus.Counter
	TokenRevocationsTotal *prometheus.CounterVec
	TokenVerifyTotal      *prometheus.CounterVec

	// SSO metrics
	SSOLoginsTotal    *prometheus.CounterVec
	SSOLoginDuration  *prometheus.HistogramVec
	IdPRequestsTotal  *prometheus.CounterVec
	ProvisioningTotal *prometheus.CounterVec

	// Store metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atrium_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "atrium_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atrium_tokens_issued_total",
				Help: "Total number of token pairs issued",
			},
			[]string{"grant"},
		),
		TokenRotationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atrium_token_rotations_total",
				Help: "Total number of refresh token rotations",
			},
			[]string{"outcome"},
		),
		TokenReuseDetected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "atrium_token_reuse_detected_total",
				Help: "Refresh token reuse events that triggered family revocation",
			},
		),
		TokenRevocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atrium_token_revocations_total",
				Help: "Total number of explicit token revocations",
			},
			[]string{"scope"},
		),
		TokenVerifyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atrium_token_verify_total",
				Help: "Access token verification attempts",
			},
			[]string{"outcome"},
		),
		SSOLoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atrium_sso_logins_total",
				Help: "SSO login attempts by protocol and outcome",
			},
			[]string{"protocol", "outcome"},
		),
		SSOLoginDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "atrium_sso_login_duration_seconds",
				Help:    "End-to-end SSO login duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"protocol"},
		),
		IdPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atrium_idp_requests_total",
				Help: "Outbound identity provider calls by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		ProvisioningTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atrium_jit_provisioning_total",
				Help: "JIT provisioning decisions",
			},
			[]string{"decision"},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "atrium_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "atrium_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TokensIssuedTotal,
		m.TokenRotationsTotal,
		m.TokenReuseDetected,
		m.TokenRevocationsTotal,
		m.TokenVerifyTotal,
		m.SSOLoginsTotal,
		m.SSOLoginDuration,
		m.IdPRequestsTotal,
		m.ProvisioningTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns the Prometheus scrape handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
