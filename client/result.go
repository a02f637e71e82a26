package client

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/TheQuantumPhysicist/HttpRpcRelay/transport"
)

type outcome struct {
	res *transport.Response
	err error
}

// Result is the one-shot outcome of an outbound session: written once by
// the session, read at most once by the caller.
type Result struct {
	ch       chan outcome
	once     sync.Once
	consumed atomic.Bool
}

func newResult() *Result {
	return &Result{ch: make(chan outcome, 1)}
}

func failedResult(err error) *Result {
	r := newResult()
	r.complete(nil, err)
	return r
}

// complete stores the outcome. Only the first call has an effect.
func (r *Result) complete(res *transport.Response, err error) bool {
	delivered := false
	r.once.Do(func() {
		r.ch <- outcome{res: res, err: err}
		delivered = true
	})
	return delivered
}

// Wait blocks until the session completes or ctx is done. The result can be
// read only once; later calls return ErrResultConsumed.
func (r *Result) Wait(ctx context.Context) (*transport.Response, error) {
	if !r.consumed.CompareAndSwap(false, true) {
		return nil, ErrResultConsumed
	}
	select {
	case o := <-r.ch:
		return o.res, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
