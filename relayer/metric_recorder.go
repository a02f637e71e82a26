package relayer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/TheQuantumPhysicist/HttpRpcRelay/logging"
	"github.com/TheQuantumPhysicist/HttpRpcRelay/reactor"
)

// MetricRecorder records histogram observations on a dedicated pool so the
// request path never waits on histogram locks.
type MetricRecorder struct {
	logger logging.Logger
	pool   *reactor.Pool
}

// NewMetricRecorder creates a recorder submitting to pool.
func NewMetricRecorder(logger logging.Logger, pool *reactor.Pool) *MetricRecorder {
	return &MetricRecorder{
		logger: logger,
		pool:   pool,
	}
}

// Record submits an observation. Observations submitted after the pool is
// closed are dropped.
func (m *MetricRecorder) Record(histogram *prometheus.HistogramVec, labels []string, value float64) {
	if err := m.pool.Submit(func() {
		histogram.WithLabelValues(labels...).Observe(value)
	}); err != nil {
		m.logger.Trace().Err(err).Msg("dropped metric observation")
	}
}

// RecordDuration is a convenience wrapper for recording time.Duration as seconds.
func (m *MetricRecorder) RecordDuration(histogram *prometheus.HistogramVec, labels []string, duration time.Duration) {
	m.Record(histogram, labels, duration.Seconds())
}
