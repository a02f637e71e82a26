package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RelayRegistry holds every metric the relay defines.
	RelayRegistry = prometheus.NewRegistry()

	// RelayFactory registers metrics on RelayRegistry.
	RelayFactory = promauto.With(RelayRegistry)
)

func init() {
	RelayRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{
		Namespace: metricsNamespace,
	}))
}

// Gatherers returns the relay registry together with the default registry,
// which carries metrics declared by packages below observability (panic
// recoveries) and the Go collector.
func Gatherers() prometheus.Gatherer {
	return prometheus.Gatherers{RelayRegistry, prometheus.DefaultGatherer}
}
