package reactor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/TheQuantumPhysicist/HttpRpcRelay/observability"
)

const (
	metricsNamespace = "httprpcrelay"
	metricsSubsystem = "reactor"
)

var (
	poolSize = observability.RelayFactory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "pool_size",
			Help:      "Configured number of workers per pool",
		},
		[]string{"pool"},
	)

	poolRunningWorkers = observability.RelayFactory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "pool_running_workers",
			Help:      "Workers currently executing a task",
		},
		[]string{"pool"},
	)

	poolWaitingTasks = observability.RelayFactory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "pool_waiting_tasks",
			Help:      "Tasks queued and not yet picked up by a worker",
		},
		[]string{"pool"},
	)

	poolSubmittedTasks = observability.RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "pool_submitted_tasks_total",
			Help:      "Tasks submitted per pool",
		},
		[]string{"pool"},
	)
)
