package observability

import (
	"time"
)

// Timer measures elapsed time for a single operation.
type Timer struct {
	startTime time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{startTime: time.Now()}
}

// Duration returns the time elapsed since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.startTime)
}

// ObserveOperation records the elapsed time in OperationDurationSeconds.
func (t *Timer) ObserveOperation(component, operation, status string) time.Duration {
	d := t.Duration()
	OperationDurationSeconds.WithLabelValues(component, operation, status).Observe(d.Seconds())
	return d
}

// RecordError increments ErrorsTotal.
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordStartupDuration records how long a component took to start.
func RecordStartupDuration(component string, d time.Duration) {
	StartupDurationSeconds.WithLabelValues(component).Set(d.Seconds())
}

// SetProcessInfo publishes build information.
func SetProcessInfo(version, commit, goVersion string) {
	ProcessInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
