// Package metrics holds the Prometheus collectors shared by the gateway
// client, the polling engine and the breaker. Collectors are registered
// on the default registry through promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "payment_confirmation"

var (
	gatewayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gateway_requests_total",
		Help:      "Payment backend calls by operation and outcome.",
	}, []string{"operation", "outcome"})

	gatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "gateway_request_duration_seconds",
		Help:      "Latency of payment backend calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	pollSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poll_sessions_total",
		Help:      "Polling sessions that reached a terminal status, by status.",
	}, []string{"status"})

	pollAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "poll_attempts",
		Help:      "Status checks performed per terminal polling session.",
		Buckets:   []float64{1, 2, 3, 5, 8, 13, 20, 30},
	})

	pollActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "poll_active_sessions",
		Help:      "Polling sessions currently in progress.",
	})

	breakerRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "breaker_rejections_total",
		Help:      "Initiations rejected because the provider circuit was open.",
	}, []string{"provider"})
)

// Outcome labels for gateway calls.
const (
	OutcomeSuccess   = "success"
	OutcomeTransport = "transport_error"
	OutcomeRejected  = "rejected"
)

// ObserveGatewayCall records one backend call.
func ObserveGatewayCall(operation, outcome string, seconds float64) {
	gatewayRequestsTotal.WithLabelValues(operation, outcome).Inc()
	gatewayRequestDuration.WithLabelValues(operation).Observe(seconds)
}

// ObservePollTerminal records a session that reached a terminal status.
func ObservePollTerminal(status string, attempts int) {
	pollSessionsTotal.WithLabelValues(status).Inc()
	pollAttempts.Observe(float64(attempts))
}

// PollStarted and PollStopped track the active sessions gauge.
func PollStarted() { pollActiveSessions.Inc() }
func PollStopped() { pollActiveSessions.Dec() }

// ObserveBreakerRejection counts a short-circuited initiation.
func ObserveBreakerRejection(provider string) {
	breakerRejectionsTotal.WithLabelValues(provider).Inc()
}

// Accessors for tests.

func GetGatewayRequestsTotal() *prometheus.CounterVec { return gatewayRequestsTotal }
func GetGatewayRequestDuration() *prometheus.HistogramVec { return gatewayRequestDuration }
func GetPollSessionsTotal() *prometheus.CounterVec { return pollSessionsTotal }
func GetPollAttempts() prometheus.Histogram { return pollAttempts }
func GetPollActiveSessions() prometheus.Gauge { return pollActiveSessions }
func GetBreakerRejectionsTotal() *prometheus.CounterVec { return breakerRejectionsTotal }
