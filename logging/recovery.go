package logging

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PanicRecoveriesTotal counts recovered panics by component. It lives on the
// default registry because logging sits below observability; the metrics
// server gathers both.
var PanicRecoveriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "httprpcrelay",
		Name:      "panic_recoveries_total",
		Help:      "Total number of panic recoveries by component",
	},
	[]string{"component"},
)

// PanicError is returned by RecoverWithLogger when the wrapped function
// panicked.
type PanicError struct {
	Component string
	Operation string
	Value     any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic recovered in %s %s: %v", e.Component, e.Operation, e.Value)
}

func reportPanic(logger Logger, component, operation string, value any) *PanicError {
	PanicRecoveriesTotal.WithLabelValues(component).Inc()
	logger.Error().
		Str(FieldComponent, component).
		Str(FieldOperation, operation).
		Str(FieldPanic, fmt.Sprint(value)).
		Str(FieldStack, string(debug.Stack())).
		Msg("recovered from panic")
	return &PanicError{Component: component, Operation: operation, Value: value}
}

// RecoverGoRoutine wraps fn so that a panic is logged and counted instead of
// taking the process down. Connection sessions, the accept loop and the
// allow-list watcher all run through it:
//
//	go RecoverGoRoutine(logger, ComponentInboundSession, session.Serve)(ctx)
func RecoverGoRoutine(logger Logger, component string, fn func(context.Context)) func(context.Context) {
	return func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				reportPanic(logger, component, "goroutine", r)
			}
		}()

		fn(ctx)
	}
}

// RecoverWithLogger runs fn synchronously. A panic is logged, counted and
// returned as a *PanicError; otherwise fn's own error is returned.
func RecoverWithLogger(logger Logger, component string, operation string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = reportPanic(logger, component, operation, r)
		}
	}()

	return fn()
}
