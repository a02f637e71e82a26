package relayer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/TheQuantumPhysicist/HttpRpcRelay/observability"
)

const (
	metricsNamespace = "httprpcrelay"
	metricsSubsystem = "relayer"
)

// Request outcomes.
const (
	outcomeAllowed       = "allowed"
	outcomeRejected      = "rejected"
	outcomeUpstreamError = "upstream_error"
	outcomeInternalError = "internal_error"
)

var (
	requestsTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "requests_total",
			Help:      "Inbound requests handled, by outcome",
		},
		[]string{"outcome"},
	)

	// Recorded through MetricRecorder so the handler never blocks on it.
	requestLatency = observability.RelayFactory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "request_latency_seconds",
			Help:      "Time from a parsed inbound request to its response being ready",
			Buckets:   observability.FineGrainedLatencyBuckets,
		},
		[]string{"outcome"},
	)

	activeConnections = observability.RelayFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "active_connections",
			Help:      "Inbound connections currently open",
		},
	)

	connectionsTotal = observability.RelayFactory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connections_total",
			Help:      "Inbound connections accepted",
		},
	)

	acceptErrorsTotal = observability.RelayFactory.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "accept_errors_total",
			Help:      "Failed accept calls on the relay listener",
		},
	)

	sessionErrorsTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "session_errors_total",
			Help:      "Inbound sessions aborted by an I/O error, by stage",
		},
		[]string{"stage"},
	)
)
