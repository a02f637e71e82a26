package client

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrResultConsumed is returned by a second Wait on the same result.
	ErrResultConsumed = errors.New("outbound result already consumed")

	// ErrSessionStarted is returned when Run is called twice on one session.
	ErrSessionStarted = errors.New("outbound session already started")

	// ErrNoAddresses is returned when resolution succeeds without any address.
	ErrNoAddresses = errors.New("no addresses resolved")
)

// Kind is the stage at which an outbound session failed.
type Kind int

const (
	KindResolve Kind = iota + 1
	KindConnect
	KindWrite
	KindRead
	KindShutdown
	KindClosed
)

func (k Kind) String() string {
	switch k {
	case KindResolve:
		return "resolve"
	case KindConnect:
		return "connect"
	case KindWrite:
		return "write"
	case KindRead:
		return "read"
	case KindShutdown:
		return "shutdown"
	case KindClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Error is the failure outcome of an outbound session.
type Error struct {
	Kind Kind
	// Addr is the host or host:port the failing stage was working on.
	Addr string
	Err  error
}

func (e *Error) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("outbound %s %s: %v", e.Kind, e.Addr, e.Err)
	}
	return fmt.Sprintf("outbound %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Timeout reports whether the stage failed because a deadline expired.
func (e *Error) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// KindOf returns the failure kind of err, or zero if err did not come from
// an outbound session.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
