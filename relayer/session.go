package relayer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/TheQuantumPhysicist/HttpRpcRelay/logging"
	"github.com/TheQuantumPhysicist/HttpRpcRelay/reactor"
	"github.com/TheQuantumPhysicist/HttpRpcRelay/transport"
)

// Handler produces the response for one inbound request. It runs on an
// inbound pool worker and may block until the response is complete.
type Handler func(ctx context.Context, req *transport.Request) *transport.Response

// SessionState is the stage an inbound session is in.
type SessionState int32

const (
	SessionReading SessionState = iota
	SessionDispatching
	SessionWriting
	SessionClosing
)

func (s SessionState) String() string {
	switch s {
	case SessionReading:
		return "reading"
	case SessionDispatching:
		return "dispatching"
	case SessionWriting:
		return "writing"
	case SessionClosing:
		return "closing"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// SessionConfig controls a single inbound connection.
type SessionConfig struct {
	// ReadTimeout bounds the wait for each request. It also bounds writing
	// the response.
	ReadTimeout time.Duration

	Limits transport.Limits
}

// DefaultSessionConfig returns a 60s deadline and default limits.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ReadTimeout: 60 * time.Second,
		Limits:      transport.DefaultLimits(),
	}
}

const handlerNotSet = "Handler not set"

// InboundSession serves sequential requests on one accepted connection until
// the peer closes it, an error occurs or a response requires closing.
type InboundSession struct {
	logger  logging.Logger
	conn    net.Conn
	pool    *reactor.Pool
	handler Handler
	config  SessionConfig

	state     atomic.Int32
	exchanges *atomic.Int64
}

// NewInboundSession creates a session for conn. Handlers run on pool. A nil
// handler answers every request with 400.
func NewInboundSession(logger logging.Logger, conn net.Conn, pool *reactor.Pool, handler Handler, config SessionConfig) *InboundSession {
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = DefaultSessionConfig().ReadTimeout
	}
	return &InboundSession{
		logger:  logging.ForConnectionComponent(logger, logging.ComponentInboundSession, conn.RemoteAddr().String()),
		conn:    conn,
		pool:    pool,
		handler: handler,
		config:  config,
	}
}

// State returns the current stage.
func (s *InboundSession) State() SessionState {
	return SessionState(s.state.Load())
}

// Serve runs the read/dispatch/write loop and closes the connection on
// return. Cancelling ctx aborts any pending I/O.
func (s *InboundSession) Serve(ctx context.Context) {
	activeConnections.Inc()
	defer activeConnections.Dec()
	defer func() { _ = s.conn.Close() }()

	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetDeadline(time.Now())
	})
	defer stop()

	reader := transport.NewReader(s.conn, s.config.Limits)
	for {
		s.state.Store(int32(SessionReading))
		if err := s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout)); err != nil {
			return
		}
		req, err := reader.ReadRequest()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Trace().Msg("peer closed connection")
				return
			}
			sessionErrorsTotal.WithLabelValues("read").Inc()
			s.logger.Debug().Err(err).Msg("failed to read request")
			return
		}

		if !s.exchange(ctx, req) {
			return
		}
	}
}

// exchange dispatches req and writes the response. It reports whether the
// connection stays open for the next request.
func (s *InboundSession) exchange(ctx context.Context, req *transport.Request) bool {
	if s.exchanges != nil {
		s.exchanges.Add(1)
		defer s.exchanges.Add(-1)
	}

	s.state.Store(int32(SessionDispatching))
	res := s.dispatch(ctx, req)

	s.state.Store(int32(SessionWriting))
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.config.ReadTimeout)); err != nil {
		return false
	}
	if err := transport.WriteResponse(s.conn, res); err != nil {
		sessionErrorsTotal.WithLabelValues("write").Inc()
		s.logger.Debug().Err(err).Msg("failed to write response")
		return false
	}

	if res.NeedEOF() || !req.KeepAlive() {
		s.state.Store(int32(SessionClosing))
		s.logger.Trace().Bool(logging.FieldKeepAlive, false).Msg("closing connection")
		s.closeWrite()
		return false
	}
	return true
}

func (s *InboundSession) dispatch(ctx context.Context, req *transport.Request) *transport.Response {
	if s.handler == nil {
		return transport.BadRequest(req, handlerNotSet)
	}

	var res *transport.Response
	err := s.pool.Run(func() {
		res = s.handler(ctx, req)
	})
	if err != nil || res == nil {
		requestsTotal.WithLabelValues(outcomeInternalError).Inc()
		logging.WithRequestContext(s.logger.Error(), requestContext(req)).
			Err(err).
			Msg("handler did not produce a response")
		res = transport.ServiceUnavailable(req, "Failed to handle request\n")
		res.SetKeepAlive(false)
	}
	return res
}

// closeWrite half-closes the send direction. A peer that is already gone is
// not worth reporting.
func (s *InboundSession) closeWrite() {
	tcp, ok := s.conn.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tcp.CloseWrite(); err != nil && !errors.Is(err, syscall.ENOTCONN) {
		s.logger.Debug().Err(err).Msg("failed to shut down connection")
	}
}
