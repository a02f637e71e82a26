// Package reactor provides the fixed-size worker pools that drive inbound
// and outbound connection work.
package reactor

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	pond "github.com/alitto/pond/v2"

	"github.com/TheQuantumPhysicist/HttpRpcRelay/logging"
)

// ErrPoolClosed is returned when work is submitted after Close.
var ErrPoolClosed = errors.New("reactor pool closed")

const metricsInterval = 5 * time.Second

// Run task states.
const (
	taskPending int32 = iota
	taskClaimed
	taskAbandoned
)

// Pool is a fixed number of workers executing submitted tasks, plus a set of
// tracked long-lived goroutines that are stopped together with the pool.
type Pool struct {
	logger logging.Logger
	name   string
	size   int

	workers pond.Pool

	ctx      context.Context
	cancelFn context.CancelFunc
	wg       sync.WaitGroup

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewPool creates a pool with size workers. A size of zero or less uses the
// number of CPUs.
func NewPool(logger logging.Logger, name string, size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		logger: logging.WithPool(logging.ForComponent(logger, logging.ComponentReactorPool), name),
		name: name,
		size: size,
		workers: pond.NewPool(
			size,
			pond.WithContext(ctx),
			pond.WithQueueSize(pond.Unbounded),
		),
		ctx:      ctx,
		cancelFn: cancel,
	}

	poolSize.WithLabelValues(name).Set(float64(size))
	p.startMetricsTicker()

	p.logger.Debug().Int(logging.FieldCount, size).Msg("reactor pool started")
	return p
}

// Name returns the pool name used in logs and metrics.
func (p *Pool) Name() string {
	return p.name
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Context is cancelled when the pool is closed.
func (p *Pool) Context() context.Context {
	return p.ctx
}

// Submit queues task for execution and returns immediately. A panicking task
// is logged and recovered.
func (p *Pool) Submit(task func()) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	if err := p.workers.Go(func() { _ = p.protect(task)() }); err != nil {
		return p.translate(err)
	}
	poolSubmittedTasks.WithLabelValues(p.name).Inc()
	return nil
}

// Run queues task and blocks until a worker has finished executing it. A
// task still queued when the pool closes is dropped and ErrPoolClosed is
// returned. A panicking task is reported as an error.
func (p *Pool) Run(task func()) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	var (
		state   atomic.Int32
		taskErr error
		done    = make(chan struct{})
	)
	wrapped := func() error {
		if !state.CompareAndSwap(taskPending, taskClaimed) {
			return nil
		}
		defer close(done)
		taskErr = p.protect(task)()
		return taskErr
	}

	poolSubmittedTasks.WithLabelValues(p.name).Inc()
	// The future also resolves once the pool context is cancelled, possibly
	// while the task is still running, so completion is tracked by done.
	_ = p.workers.SubmitErr(wrapped).Wait()
	if state.CompareAndSwap(taskPending, taskAbandoned) {
		return ErrPoolClosed
	}
	<-done
	return taskErr
}

func (p *Pool) protect(task func()) func() error {
	return func() error {
		return logging.RecoverWithLogger(p.logger, logging.ComponentReactorPool, "task", func() error {
			task()
			return nil
		})
	}
}

// Go starts fn on a tracked goroutine outside the worker set. fn receives the
// pool context and must return once it is cancelled.
func (p *Pool) Go(fn func(ctx context.Context)) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		logging.RecoverGoRoutine(p.logger, logging.ComponentReactorPool, fn)(p.ctx)
	}()
	return nil
}

// Close cancels the pool context, which discards queued tasks, then waits for
// running tasks and tracked goroutines. It is safe to call more than once.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.cancelFn()
		p.workers.StopAndWait()
		p.wg.Wait()
		p.recordMetrics()
		p.logger.Debug().Msg("reactor pool stopped")
	})
}

// Closed reports whether Close has been called.
func (p *Pool) Closed() bool {
	return p.closed.Load()
}

func (p *Pool) translate(err error) error {
	if errors.Is(err, pond.ErrPoolStopped) || errors.Is(err, context.Canceled) {
		return ErrPoolClosed
	}
	return err
}

func (p *Pool) recordMetrics() {
	poolRunningWorkers.WithLabelValues(p.name).Set(float64(p.workers.RunningWorkers()))
	poolWaitingTasks.WithLabelValues(p.name).Set(float64(p.workers.WaitingTasks()))
}

func (p *Pool) startMetricsTicker() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(metricsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.ctx.Done():
				return
			case <-ticker.C:
				p.recordMetrics()
			}
		}
	}()
}
