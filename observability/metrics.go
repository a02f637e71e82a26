package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "httprpcrelay"
	metricsSubsystem = "observability"
)

var (
	// FineGrainedLatencyBuckets provides sub-millisecond to multi-second measurement.
	// Use for: upstream round trips, filter checks, handler dispatch.
	// Buckets: 1ms, 2ms, 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, 1s, 2.5s, 5s, 10s, 30s, 60s, 90s
	FineGrainedLatencyBuckets = []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 90}

	// MicroLatencyBuckets provides ultra-fine-grained measurement for sub-millisecond operations.
	// Use for: in-memory allow-list lookups, brace scanning.
	// Buckets: 10µs, 50µs, 100µs, 500µs, 1ms, 5ms, 10ms, 50ms, 100ms
	MicroLatencyBuckets = []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1}
)

var (
	// OperationDurationSeconds tracks the duration of high-level operations.
	OperationDurationSeconds = RelayFactory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "operation_duration_seconds",
			Help:      "Duration of high-level operations (request handling, upstream round trips)",
			Buckets:   FineGrainedLatencyBuckets,
		},
		[]string{"component", "operation", "status"},
	)

	// ErrorsTotal counts errors by component and type.
	ErrorsTotal = RelayFactory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "errors_total",
			Help:      "Total number of errors by component and type",
		},
		[]string{"component", "error_type"},
	)

	// ProcessInfo exposes build information as labels.
	ProcessInfo = RelayFactory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "process_info",
			Help:      "Process information (always 1)",
		},
		[]string{"version", "commit", "go_version"},
	)

	// StartupDurationSeconds tracks how long each component took to start.
	StartupDurationSeconds = RelayFactory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "startup_duration_seconds",
			Help:      "Time taken to start components",
		},
		[]string{"component"},
	)
)
