package logging

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(buf *bytes.Buffer) Logger {
	cfg := DefaultConfig()
	cfg.Async = false
	return NewLoggerWithWriter(cfg, buf)
}

func TestRecoverWithLogger_ReturnsPanicError(t *testing.T) {
	var buf bytes.Buffer
	counter := PanicRecoveriesTotal.WithLabelValues("recovery_test_sync")
	before := testutil.ToFloat64(counter)

	err := RecoverWithLogger(newBufferLogger(&buf), "recovery_test_sync", "handle", func() error {
		panic("boom")
	})

	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	require.Equal(t, "recovery_test_sync", panicErr.Component)
	require.Equal(t, "handle", panicErr.Operation)
	require.Equal(t, "boom", panicErr.Value)
	require.Contains(t, err.Error(), "boom")

	require.Equal(t, before+1, testutil.ToFloat64(counter))
	require.Contains(t, buf.String(), `"panic":"boom"`)
	require.Contains(t, buf.String(), `"operation":"handle"`)
	require.Contains(t, buf.String(), `"stack":`)
}

func TestRecoverWithLogger_PassesThroughErrors(t *testing.T) {
	sentinel := errors.New("plain failure")
	err := RecoverWithLogger(newBufferLogger(&bytes.Buffer{}), "recovery_test_plain", "handle", func() error {
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	var panicErr *PanicError
	require.False(t, errors.As(err, &panicErr))
}

func TestRecoverGoRoutine(t *testing.T) {
	var buf bytes.Buffer
	counter := PanicRecoveriesTotal.WithLabelValues("recovery_test_go")
	before := testutil.ToFloat64(counter)

	done := make(chan struct{})
	go RecoverGoRoutine(newBufferLogger(&buf), "recovery_test_go", func(ctx context.Context) {
		defer close(done)
		panic(errors.New("session exploded"))
	})(context.Background())
	<-done

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(counter) == before+1
	}, time.Second, 5*time.Millisecond)
}
