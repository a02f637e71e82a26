package observability

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/procfs"

	"github.com/TheQuantumPhysicist/HttpRpcRelay/logging"
)

const (
	runtimeSubsystem = "runtime"

	// A forwarded request holds the inbound socket and a fresh outbound one.
	fdsPerForwardedRequest = 2

	defaultCollectionInterval = 10 * time.Second
	defaultFDWarnRatio        = 0.8
)

type runtimeMetrics struct {
	goroutines   prometheus.Gauge
	heapInuse    prometheus.Gauge
	gcPauseTotal prometheus.Counter
	numGC        prometheus.Counter

	fdUsageRatio   prometheus.Gauge
	requestSlots   prometheus.Gauge
	fdPressureHits prometheus.Counter
}

func newRuntimeMetrics(factory promauto.Factory) *runtimeMetrics {
	return &runtimeMetrics{
		goroutines: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: runtimeSubsystem,
			Name:      "goroutines",
			Help:      "Number of goroutines, including one per open inbound connection",
		}),
		heapInuse: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: runtimeSubsystem,
			Name:      "heap_inuse_bytes",
			Help:      "Bytes in in-use heap spans (request and response buffers)",
		}),
		gcPauseTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: runtimeSubsystem,
			Name:      "gc_pause_total_nanoseconds",
			Help:      "Cumulative nanoseconds in GC stop-the-world pauses",
		}),
		numGC: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: runtimeSubsystem,
			Name:      "gc_completed_total",
			Help:      "Number of completed GC cycles",
		}),
		fdUsageRatio: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: runtimeSubsystem,
			Name:      "fd_usage_ratio",
			Help:      "Open file descriptors divided by the process limit",
		}),
		requestSlots: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: runtimeSubsystem,
			Name:      "fd_request_slots",
			Help:      "Additional forwarded requests the remaining file descriptors can hold",
		}),
		fdPressureHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: runtimeSubsystem,
			Name:      "fd_pressure_total",
			Help:      "Times file descriptor usage crossed the warning ratio",
		}),
	}
}

// fdStats reports the open file descriptors and the process limit.
type fdStats func() (open, limit uint64, err error)

func procfsFDStats() (uint64, uint64, error) {
	proc, err := procfs.Self()
	if err != nil {
		return 0, 0, err
	}
	open, err := proc.FileDescriptorsLen()
	if err != nil {
		return 0, 0, err
	}
	limits, err := proc.Limits()
	if err != nil {
		return 0, 0, err
	}
	return uint64(open), limits.OpenFiles, nil
}

// RuntimeMetricsCollectorConfig configures the runtime metrics collector.
type RuntimeMetricsCollectorConfig struct {
	// CollectionInterval is how often to sample. Default: 10s
	CollectionInterval time.Duration

	// FDWarnRatio is the open/limit file descriptor ratio above which a
	// warning is logged once per crossing. Default: 0.8
	FDWarnRatio float64
}

// DefaultRuntimeMetricsCollectorConfig returns sensible defaults.
func DefaultRuntimeMetricsCollectorConfig() RuntimeMetricsCollectorConfig {
	return RuntimeMetricsCollectorConfig{
		CollectionInterval: defaultCollectionInterval,
		FDWarnRatio:        defaultFDWarnRatio,
	}
}

// RuntimeMetricsCollector samples the resources every relayed request
// consumes: goroutines, heap and file descriptors. File descriptor
// sampling is disabled after the first failure (no procfs).
type RuntimeMetricsCollector struct {
	logger  logging.Logger
	config  RuntimeMetricsCollectorConfig
	metrics *runtimeMetrics
	readFDs fdStats

	lastGCPauseTotal uint64
	lastNumGC        uint32
	fdDisabled       bool
	fdPressure       bool

	ctx      context.Context
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewRuntimeMetricsCollector creates a collector registering on factory.
func NewRuntimeMetricsCollector(
	logger logging.Logger,
	config RuntimeMetricsCollectorConfig,
	factory promauto.Factory,
) *RuntimeMetricsCollector {
	if config.CollectionInterval <= 0 {
		config.CollectionInterval = defaultCollectionInterval
	}
	if config.FDWarnRatio <= 0 || config.FDWarnRatio > 1 {
		config.FDWarnRatio = defaultFDWarnRatio
	}

	return &RuntimeMetricsCollector{
		logger:  logging.ForComponent(logger, logging.ComponentRuntimeMetrics),
		config:  config,
		metrics: newRuntimeMetrics(factory),
		readFDs: procfsFDStats,
	}
}

// Start begins sampling until ctx is cancelled or Stop is called. Calling
// Start on a running collector does nothing.
func (c *RuntimeMetricsCollector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	c.ctx, c.cancelFn = context.WithCancel(ctx)
	c.running = true

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	c.lastGCPauseTotal = memStats.PauseTotalNs
	c.lastNumGC = memStats.NumGC

	c.wg.Add(1)
	go c.collectLoop()

	c.logger.Info().
		Dur("collection_interval", c.config.CollectionInterval).
		Msg("runtime metrics collector started")
	return nil
}

// Stop stops sampling and waits for the loop to exit.
func (c *RuntimeMetricsCollector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.cancelFn()
	c.mu.Unlock()

	c.wg.Wait()
	c.logger.Info().Msg("runtime metrics collector stopped")
}

func (c *RuntimeMetricsCollector) collectLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CollectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

func (c *RuntimeMetricsCollector) collect() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	c.metrics.goroutines.Set(float64(runtime.NumGoroutine()))
	c.metrics.heapInuse.Set(float64(memStats.HeapInuse))

	if memStats.PauseTotalNs > c.lastGCPauseTotal {
		c.metrics.gcPauseTotal.Add(float64(memStats.PauseTotalNs - c.lastGCPauseTotal))
		c.lastGCPauseTotal = memStats.PauseTotalNs
	}
	if memStats.NumGC > c.lastNumGC {
		c.metrics.numGC.Add(float64(memStats.NumGC - c.lastNumGC))
		c.lastNumGC = memStats.NumGC
	}

	c.collectFDs()
}

func (c *RuntimeMetricsCollector) collectFDs() {
	if c.fdDisabled {
		return
	}

	open, limit, err := c.readFDs()
	if err != nil {
		c.fdDisabled = true
		c.logger.Debug().Err(err).Msg("file descriptor stats unavailable, not sampling them")
		return
	}
	if limit == 0 {
		return
	}

	ratio := float64(open) / float64(limit)
	c.metrics.fdUsageRatio.Set(ratio)

	var slots uint64
	if limit > open {
		slots = (limit - open) / fdsPerForwardedRequest
	}
	c.metrics.requestSlots.Set(float64(slots))

	switch {
	case ratio >= c.config.FDWarnRatio && !c.fdPressure:
		c.fdPressure = true
		c.metrics.fdPressureHits.Inc()
		c.logger.Warn().
			Uint64("open_fds", open).
			Uint64("max_fds", limit).
			Uint64("request_slots", slots).
			Msg("file descriptor usage is high, new connections may be refused")
	case ratio < c.config.FDWarnRatio && c.fdPressure:
		c.fdPressure = false
		c.logger.Info().
			Uint64("open_fds", open).
			Uint64("max_fds", limit).
			Msg("file descriptor usage back to normal")
	}
}

// CollectNow samples immediately.
func (c *RuntimeMetricsCollector) CollectNow() {
	c.collect()
}
