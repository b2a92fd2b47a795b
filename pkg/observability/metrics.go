package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the auth and presence core.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Token lifecycle metrics
	TokensIssuedTotal     *prometheus.CounterVec
	TokenValidationsTotal *prometheus.CounterVec
	TokensRevokedTotal    prometheus.Counter
	TokenRefreshesTotal   *prometheus.CounterVec

	// Store metrics
	StoreExpiriesTotal *prometheus.CounterVec

	// Presence metrics
	PresenceOnline          prometheus.Gauge
	PresenceRegistrations   *prometheus.CounterVec
	PresenceBroadcastsTotal *prometheus.CounterVec
	PresenceSendErrorsTotal prometheus.Counter
	HeartbeatFailuresTotal  prometheus.Counter
	AdmissionDecisionsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "beacon_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_tokens_issued_total",
				Help: "Tokens issued, by kind",
			},
			[]string{"kind"},
		),
		TokenValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_token_validations_total",
				Help: "Token validations, by outcome",
			},
			[]string{"outcome"},
		),
		TokensRevokedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "beacon_tokens_revoked_total",
				Help: "Token records removed by explicit revocation",
			},
		),
		TokenRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_token_refreshes_total",
				Help: "Refresh attempts, by outcome",
			},
			[]string{"outcome"},
		),
		StoreExpiriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_store_expiries_total",
				Help: "TTL evictions observed, by record kind",
			},
			[]string{"kind"},
		),
		PresenceOnline: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "beacon_presence_online",
				Help: "Currently registered live connections",
			},
		),
		PresenceRegistrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_presence_registrations_total",
				Help: "Presence registration attempts, by outcome",
			},
			[]string{"outcome"},
		),
		PresenceBroadcastsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_presence_broadcasts_total",
				Help: "Presence broadcast events, by type",
			},
			[]string{"type"},
		),
		PresenceSendErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "beacon_presence_send_errors_total",
				Help: "Failed sends to individual connections",
			},
		),
		HeartbeatFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "beacon_heartbeat_failures_total",
				Help: "Ping failures that triggered presence cleanup",
			},
		),
		AdmissionDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_admission_decisions_total",
				Help: "Websocket admission decisions, by outcome",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TokensIssuedTotal,
		m.TokenValidationsTotal,
		m.TokensRevokedTotal,
		m.TokenRefreshesTotal,
		m.StoreExpiriesTotal,
		m.PresenceOnline,
		m.PresenceRegistrations,
		m.PresenceBroadcastsTotal,
		m.PresenceSendErrorsTotal,
		m.HeartbeatFailuresTotal,
		m.AdmissionDecisionsTotal,
	)

	return m
}

// Handler returns an HTTP handler serving the metrics registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records one completed HTTP request
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
