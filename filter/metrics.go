package filter

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/TheQuantumPhysicist/HttpRpcRelay/observability"
)

const (
	metricsNamespace = "httprpcrelay"
	metricsSubsystem = "filter"
)

var (
	filterRejectionsTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "rejections_total",
			Help:      "Requests rejected by the filter, by reason",
		},
		[]string{"reason"},
	)

	allowListSize = observability.RelayFactory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "allowlist_size",
			Help:      "Number of methods in the allow-list after the last file reload",
		},
	)

	allowListReloadsTotal = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "allowlist_reloads_total",
			Help:      "Allow-list file reloads, by result",
		},
		[]string{"result"},
	)
)
