package send

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetrics_Summary(t *testing.T) {
	metrics := NewMetrics()
	metrics.Start()

	for i := 0; i < 70; i++ {
		metrics.RecordSuccess(200, float64(i+1))
	}
	for i := 0; i < 20; i++ {
		metrics.RecordSuccess(400, 1)
	}
	for i := 0; i < 10; i++ {
		metrics.RecordError(errors.New("outbound connect 127.0.0.1:1: connection refused"))
	}

	time.Sleep(10 * time.Millisecond)
	metrics.End()

	summary := metrics.GetSummary()
	require.Contains(t, summary, "Total Requests: 100")
	require.Contains(t, summary, "Successful: 90")
	require.Contains(t, summary, "Errors: 10")
	require.Contains(t, summary, "Success Rate: 90.00%")
	require.Contains(t, summary, "Throughput:")
	require.Contains(t, summary, "Status Codes:\n  200: 70\n  400: 20\n")
	require.Contains(t, summary, "Latency Percentiles (ms):")
	require.Contains(t, summary, "p99:")
	require.Contains(t, summary, "Error Breakdown:\n  10: outbound connect")

	success, failed := metrics.Counts()
	require.Equal(t, 90, success)
	require.Equal(t, 10, failed)
}

func TestMetrics_Empty(t *testing.T) {
	metrics := NewMetrics()
	metrics.Start()
	metrics.End()
	require.Equal(t, "No requests recorded", metrics.GetSummary())
}

func TestMetrics_ErrorBreakdownIsCapped(t *testing.T) {
	metrics := NewMetrics()
	metrics.Start()
	for i := 0; i < 12; i++ {
		metrics.RecordError(fmt.Errorf("error %02d", i))
	}
	metrics.End()

	summary := metrics.GetSummary()
	require.Contains(t, summary, "1: error 00")
	require.NotContains(t, summary, "error 11")
	require.Contains(t, summary, "... and 2 more error types")
}

func TestMetrics_ConcurrentRecording(t *testing.T) {
	metrics := NewMetrics()
	metrics.Start()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(val float64) {
			defer wg.Done()
			metrics.RecordSuccess(200, val)
		}(float64(i))
	}
	wg.Wait()
	metrics.End()

	require.Contains(t, metrics.GetSummary(), "Successful: 100")
}

func TestPercentile(t *testing.T) {
	latencies := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	require.InDelta(t, 5.5, percentile(latencies, 50), 0.01)
	require.InDelta(t, 9.55, percentile(latencies, 95), 0.01)
	require.InDelta(t, 9.91, percentile(latencies, 99), 0.01)
	require.Equal(t, 10.0, percentile(latencies, 100))
	require.Equal(t, 0.0, percentile(nil, 50))
	require.Equal(t, 42.5, percentile([]float64{42.5}, 50))
}
