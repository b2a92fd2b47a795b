// Package observability provides structured logging, Prometheus metrics,
// health checks, and graceful shutdown for the Beacon auth service.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("identity", email).Info("Token issued")
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.TokensIssuedTotal.WithLabelValues("access").Inc()
//	metrics.PresenceOnline.Set(float64(hub.Len()))
//
// # Health Checks
//
// The health checker exposes liveness and readiness probes on a dedicated
// listener so Kubernetes probes do not compete with API traffic.
package observability
