//go:build test

package observability

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/TheQuantumPhysicist/HttpRpcRelay/logging"
)

func newTestCollector(interval time.Duration) (*RuntimeMetricsCollector, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	collector := NewRuntimeMetricsCollector(
		zerolog.Nop(),
		RuntimeMetricsCollectorConfig{CollectionInterval: interval},
		promauto.With(registry),
	)
	return collector, registry
}

// fakeFDs returns an fdStats whose values are read from the pointers on
// every call.
func fakeFDs(open, limit *uint64) fdStats {
	return func() (uint64, uint64, error) {
		return *open, *limit, nil
	}
}

func TestRuntimeMetricsCollector_Defaults(t *testing.T) {
	collector, _ := newTestCollector(0)
	require.Equal(t, defaultCollectionInterval, collector.config.CollectionInterval)
	require.Equal(t, defaultFDWarnRatio, collector.config.FDWarnRatio)
}

func TestRuntimeMetricsCollector_StartStop(t *testing.T) {
	collector, _ := newTestCollector(20 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, collector.Start(ctx))
	require.NoError(t, collector.Start(ctx), "second start is a no-op")

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(collector.metrics.goroutines) > 0
	}, 2*time.Second, 10*time.Millisecond)

	collector.Stop()
	collector.Stop()
	require.False(t, collector.running)
}

func TestRuntimeMetricsCollector_CollectNow(t *testing.T) {
	collector, registry := newTestCollector(time.Hour)

	runtime.GC()
	collector.CollectNow()

	require.Greater(t, testutil.ToFloat64(collector.metrics.heapInuse), float64(0))

	count, err := testutil.GatherAndCount(registry, "httprpcrelay_runtime_goroutines")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestRuntimeMetricsCollector_GCCountersOnlyGrow(t *testing.T) {
	collector, _ := newTestCollector(time.Hour)

	collector.collect()
	first := testutil.ToFloat64(collector.metrics.numGC)

	runtime.GC()
	runtime.GC()
	collector.collect()

	require.GreaterOrEqual(t, testutil.ToFloat64(collector.metrics.numGC), first+2)
}

func TestRuntimeMetricsCollector_FDRequestSlots(t *testing.T) {
	collector, _ := newTestCollector(time.Hour)
	open, limit := uint64(24), uint64(1024)
	collector.readFDs = fakeFDs(&open, &limit)

	collector.collect()

	require.InDelta(t, 24.0/1024.0, testutil.ToFloat64(collector.metrics.fdUsageRatio), 1e-9)
	require.Equal(t, float64(500), testutil.ToFloat64(collector.metrics.requestSlots))

	open = limit + 1
	collector.collect()
	require.Zero(t, testutil.ToFloat64(collector.metrics.requestSlots))
}

func TestRuntimeMetricsCollector_FDPressureLoggedOncePerCrossing(t *testing.T) {
	var buf bytes.Buffer
	cfg := logging.DefaultConfig()
	cfg.Async = false
	collector := NewRuntimeMetricsCollector(
		logging.NewLoggerWithWriter(cfg, &buf),
		RuntimeMetricsCollectorConfig{CollectionInterval: time.Hour, FDWarnRatio: 0.5},
		promauto.With(prometheus.NewRegistry()),
	)
	open, limit := uint64(60), uint64(100)
	collector.readFDs = fakeFDs(&open, &limit)

	collector.collect()
	collector.collect()
	require.Equal(t, 1, strings.Count(buf.String(), "file descriptor usage is high"))
	require.Equal(t, float64(1), testutil.ToFloat64(collector.metrics.fdPressureHits))

	open = 10
	collector.collect()
	require.Contains(t, buf.String(), "file descriptor usage back to normal")

	open = 90
	collector.collect()
	require.Equal(t, 2, strings.Count(buf.String(), "file descriptor usage is high"))
	require.Equal(t, float64(2), testutil.ToFloat64(collector.metrics.fdPressureHits))
}

func TestRuntimeMetricsCollector_FDSamplingDisabledAfterError(t *testing.T) {
	collector, _ := newTestCollector(time.Hour)
	calls := 0
	collector.readFDs = func() (uint64, uint64, error) {
		calls++
		return 0, 0, errors.New("no procfs")
	}

	collector.collect()
	collector.collect()

	require.Equal(t, 1, calls)
	require.True(t, collector.fdDisabled)
}
