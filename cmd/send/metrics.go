package send

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Metrics tracks outcomes of a load test.
type Metrics struct {
	mu sync.Mutex

	totalRequests int
	successCount  int
	errorCount    int

	// Latencies in milliseconds.
	latencies []float64

	// HTTP status code -> count, successful requests only
	statuses map[int]int

	startTime time.Time
	endTime   time.Time

	// error message -> count
	errors map[string]int
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		statuses: make(map[int]int),
		errors:   make(map[string]int),
	}
}

// Start marks the beginning of the load test.
func (m *Metrics) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startTime = time.Now()
}

// End marks the end of the load test.
func (m *Metrics) End() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endTime = time.Now()
}

// RecordSuccess records a request that produced a response.
func (m *Metrics) RecordSuccess(status int, latencyMs float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalRequests++
	m.successCount++
	m.statuses[status]++
	m.latencies = append(m.latencies, latencyMs)
}

// RecordError records a failed request.
func (m *Metrics) RecordError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalRequests++
	m.errorCount++
	m.errors[err.Error()]++
}

// Counts returns the number of successful and failed requests.
func (m *Metrics) Counts() (success, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.successCount, m.errorCount
}

// GetSummary returns a formatted summary of the load test results.
func (m *Metrics) GetSummary() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.totalRequests == 0 {
		return "No requests recorded"
	}

	duration := m.endTime.Sub(m.startTime)
	successRate := float64(m.successCount) / float64(m.totalRequests) * 100
	throughput := float64(m.totalRequests) / duration.Seconds()

	summary := fmt.Sprintf(`
=== Load Test Results ===
Total Requests: %d
Successful: %d
Errors: %d
Success Rate: %.2f%%

Duration: %s
Throughput: %.2f RPS
`,
		m.totalRequests,
		m.successCount,
		m.errorCount,
		successRate,
		duration.Round(time.Millisecond),
		throughput,
	)

	if len(m.statuses) > 0 {
		summary += m.getStatusBreakdown()
	}
	if len(m.latencies) > 0 {
		summary += m.getLatencyPercentiles()
	}
	if m.errorCount > 0 {
		summary += m.getErrorBreakdown()
	}

	return summary
}

func (m *Metrics) getStatusBreakdown() string {
	codes := make([]int, 0, len(m.statuses))
	for code := range m.statuses {
		codes = append(codes, code)
	}
	sort.Ints(codes)

	breakdown := "\nStatus Codes:\n"
	for _, code := range codes {
		breakdown += fmt.Sprintf("  %d: %d\n", code, m.statuses[code])
	}
	return breakdown
}

func (m *Metrics) getLatencyPercentiles() string {
	sorted := make([]float64, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Float64s(sorted)

	return fmt.Sprintf(`
Latency Percentiles (ms):
  min: %.2f
  p50: %.2f
  p95: %.2f
  p99: %.2f
  max: %.2f
`,
		sorted[0],
		percentile(sorted, 50),
		percentile(sorted, 95),
		percentile(sorted, 99),
		sorted[len(sorted)-1],
	)
}

// getErrorBreakdown lists the ten most frequent errors.
func (m *Metrics) getErrorBreakdown() string {
	type errorCount struct {
		msg   string
		count int
	}
	counts := make([]errorCount, 0, len(m.errors))
	for msg, count := range m.errors {
		counts = append(counts, errorCount{msg, count})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count > counts[j].count
		}
		return counts[i].msg < counts[j].msg
	})

	breakdown := "\nError Breakdown:\n"
	limit := min(len(counts), 10)
	for i := 0; i < limit; i++ {
		breakdown += fmt.Sprintf("  %d: %s\n", counts[i].count, counts[i].msg)
	}
	if len(counts) > 10 {
		breakdown += fmt.Sprintf("  ... and %d more error types\n", len(counts)-10)
	}
	return breakdown
}

// percentile linearly interpolates the pth percentile of a sorted slice.
func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}

	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lowerIndex := int(rank)
	upperIndex := lowerIndex + 1
	if upperIndex >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	weight := rank - float64(lowerIndex)
	return sorted[lowerIndex]*(1-weight) + sorted[upperIndex]*weight
}
