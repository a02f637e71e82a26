package client

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/TheQuantumPhysicist/HttpRpcRelay/observability"
)

const (
	metricsNamespace = "httprpcrelay"
	metricsSubsystem = "client"
)

var (
	upstreamDurationSeconds = observability.RelayFactory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "upstream_duration_seconds",
			Help:      "Time from resolution start to a complete upstream response or failure",
			Buckets:   observability.FineGrainedLatencyBuckets,
		},
		[]string{"result"},
	)

	upstreamErrorsTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "upstream_errors_total",
			Help:      "Failed outbound sessions by failing stage",
		},
		[]string{"kind"},
	)
)
