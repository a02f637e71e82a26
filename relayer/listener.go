package relayer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/netutil"

	"github.com/TheQuantumPhysicist/HttpRpcRelay/logging"
	"github.com/TheQuantumPhysicist/HttpRpcRelay/reactor"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// ListenerConfig configures the inbound acceptor.
type ListenerConfig struct {
	// Addr is the host:port to bind.
	Addr string

	// MaxConnections caps concurrently open connections. 0 means unlimited.
	MaxConnections int

	Session SessionConfig
}

// Listener accepts inbound connections and runs an InboundSession for each.
type Listener struct {
	logger logging.Logger
	pool   *reactor.Pool
	config ListenerConfig

	handler   atomic.Pointer[Handler]
	exchanges atomic.Int64

	mu     sync.Mutex
	ln     net.Listener
	closed bool
}

// NewListener creates an acceptor whose sessions and handlers run on pool.
func NewListener(logger logging.Logger, pool *reactor.Pool, config ListenerConfig) *Listener {
	return &Listener{
		logger: logging.ForComponent(logger, logging.ComponentListener),
		pool:   pool,
		config: config,
	}
}

// SetHandler sets the handler used by connections accepted from now on.
func (l *Listener) SetHandler(h Handler) {
	l.handler.Store(&h)
}

func (l *Listener) currentHandler() Handler {
	if h := l.handler.Load(); h != nil {
		return *h
	}
	return nil
}

// Start binds the address and starts accepting. Bind errors are returned.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("listener is closed")
	}
	if l.ln != nil {
		return fmt.Errorf("listener already started")
	}

	// Go enables SO_REUSEADDR on listening sockets and uses the system
	// maximum backlog.
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.config.Addr, err)
	}
	if l.config.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, l.config.MaxConnections)
	}
	l.ln = ln

	if err := l.pool.Go(func(ctx context.Context) { l.acceptLoop(ctx, ln) }); err != nil {
		_ = ln.Close()
		l.ln = nil
		return err
	}

	l.logger.Info().
		Str(logging.FieldListenAddr, ln.Addr().String()).
		Int("max_connections", l.config.MaxConnections).
		Msg("listening")
	return nil
}

// Addr returns the bound address, or nil before Start.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Listening reports whether the listener is bound and not closed.
func (l *Listener) Listening() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ln != nil && !l.closed
}

// InFlight returns the number of requests read but not yet answered.
func (l *Listener) InFlight() int64 {
	return l.exchanges.Load()
}

// Close stops accepting. Open sessions end when the pool is closed.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.ln == nil {
		return nil
	}
	return l.ln.Close()
}

func (l *Listener) acceptLoop(ctx context.Context, ln net.Listener) {
	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}

			acceptErrorsTotal.Inc()
			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff = min(2*backoff, maxAcceptBackoff)
			}
			l.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("failed to accept connection")

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0
		connectionsTotal.Inc()

		session := NewInboundSession(l.logger, conn, l.pool, l.currentHandler(), l.config.Session)
		session.exchanges = &l.exchanges
		if err := l.pool.Go(session.Serve); err != nil {
			_ = conn.Close()
			return
		}
	}
}
