// Package client implements the outbound side of the relay: one Session per
// forwarded request, connecting to the upstream, sending the request and
// reading exactly one response.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/TheQuantumPhysicist/HttpRpcRelay/logging"
	"github.com/TheQuantumPhysicist/HttpRpcRelay/observability"
	"github.com/TheQuantumPhysicist/HttpRpcRelay/reactor"
	"github.com/TheQuantumPhysicist/HttpRpcRelay/transport"
)

// State is the stage an outbound session is in.
type State int32

const (
	StateIdle State = iota
	StateResolving
	StateConnecting
	StateWriting
	StateReading
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateConnecting:
		return "connecting"
	case StateWriting:
		return "writing"
	case StateReading:
		return "reading"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Config controls outbound timeouts and limits.
type Config struct {
	// ConnectTimeout covers resolution and connection establishment.
	ConnectTimeout time.Duration

	// IOTimeout covers writing the request and reading the response. It is
	// armed when writing starts.
	IOTimeout time.Duration

	Limits transport.Limits

	// Resolver defaults to the system resolver.
	Resolver Resolver
}

// DefaultConfig returns the default outbound configuration.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 60 * time.Second,
		IOTimeout:      30 * time.Second,
		Limits:         transport.DefaultLimits(),
	}
}

// Session forwards a single request to an upstream and delivers its response.
// A session is not reusable.
type Session struct {
	logger logging.Logger
	pool   *reactor.Pool
	config Config

	state   atomic.Int32
	started atomic.Bool
}

// NewSession creates a session whose work runs on pool.
func NewSession(logger logging.Logger, pool *reactor.Pool, config Config) *Session {
	defaults := DefaultConfig()
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}
	if config.IOTimeout <= 0 {
		config.IOTimeout = defaults.IOTimeout
	}
	if config.Limits == (transport.Limits{}) {
		config.Limits = defaults.Limits
	}
	if config.Resolver == nil {
		config.Resolver = SystemResolver()
	}

	return &Session{
		logger: logging.ForComponent(logger, logging.ComponentOutboundSession),
		pool:   pool,
		config: config,
	}
}

// State returns the current stage.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Run sends req to host:port as-is and returns the pending result.
func (s *Session) Run(host string, port uint16, req *transport.Request) *Result {
	if !s.started.CompareAndSwap(false, true) {
		return failedResult(ErrSessionStarted)
	}

	result := newResult()
	target := net.JoinHostPort(host, strconv.Itoa(int(port)))
	logger := s.logger.With().Str(logging.FieldTarget, target).Logger()

	err := s.pool.Submit(func() {
		res, err := s.execute(s.pool.Context(), logger, host, port, req)
		result.complete(res, err)
	})
	if err != nil {
		s.setState(logger, StateFailed)
		upstreamErrorsTotal.WithLabelValues(KindClosed.String()).Inc()
		result.complete(nil, &Error{Kind: KindClosed, Addr: target, Err: err})
	}
	return result
}

// RunRequest builds a request from its parts and runs it. Host, User-Agent,
// Content-Type (application/json) and Content-Length are stamped before the
// extra fields are added.
func (s *Session) RunRequest(
	method string,
	host string,
	port uint16,
	target string,
	body []byte,
	version transport.Version,
	fields []transport.Field,
) *Result {
	req := transport.NewRequest(method, target, version, body)
	hostValue := host
	if port != 80 {
		hostValue = net.JoinHostPort(host, strconv.Itoa(int(port)))
	}
	req.Header.Set(transport.HeaderHost, hostValue)
	req.Header.Set(transport.HeaderUserAgent, transport.ServerName)
	req.Header.Set(transport.HeaderContentType, "application/json")
	for _, f := range fields {
		req.Header.Set(f.Name, f.Value)
	}
	req.PreparePayload()
	return s.Run(host, port, req)
}

func (s *Session) execute(
	ctx context.Context,
	logger logging.Logger,
	host string,
	port uint16,
	req *transport.Request,
) (res *transport.Response, err error) {
	timer := observability.NewTimer()
	defer func() {
		status := logging.ResultSuccess
		if err != nil {
			status = logging.ResultFailure
			s.setState(logger, StateFailed)
			var outErr *Error
			if errors.As(err, &outErr) {
				if ctx.Err() != nil {
					outErr.Kind = KindClosed
				}
				upstreamErrorsTotal.WithLabelValues(outErr.Kind.String()).Inc()
			}
			logger.Debug().Err(err).Msg("outbound session failed")
		} else {
			s.setState(logger, StateCompleted)
		}
		upstreamDurationSeconds.WithLabelValues(status).Observe(timer.Duration().Seconds())
	}()

	connectCtx, cancel := context.WithTimeout(ctx, s.config.ConnectTimeout)
	defer cancel()

	s.setState(logger, StateResolving)
	addrs, err := s.resolve(connectCtx, host)
	if err != nil {
		return nil, &Error{Kind: KindResolve, Addr: host, Err: err}
	}

	s.setState(logger, StateConnecting)
	conn, err := s.connect(connectCtx, logger, addrs, port)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	remote := conn.RemoteAddr().String()

	s.setState(logger, StateWriting)
	if err := conn.SetDeadline(time.Now().Add(s.config.IOTimeout)); err != nil {
		return nil, &Error{Kind: KindWrite, Addr: remote, Err: err}
	}
	if err := transport.WriteRequest(conn, req); err != nil {
		return nil, &Error{Kind: KindWrite, Addr: remote, Err: err}
	}

	s.setState(logger, StateReading)
	res, err = transport.NewReader(conn, s.config.Limits).ReadResponse(req.Method)
	if err != nil {
		return nil, &Error{Kind: KindRead, Addr: remote, Err: err}
	}

	if err := shutdown(conn); err != nil {
		return nil, &Error{Kind: KindShutdown, Addr: remote, Err: err}
	}

	logger.Debug().
		Int(logging.FieldStatus, res.StatusCode).
		Dur(logging.FieldLatency, timer.Duration()).
		Msg("upstream response received")
	return res, nil
}

func (s *Session) resolve(ctx context.Context, host string) ([]string, error) {
	if net.ParseIP(host) != nil {
		return []string{host}, nil
	}
	addrs, err := s.config.Resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, ErrNoAddresses
	}
	return addrs, nil
}

// connect tries every resolved address in order and returns the first
// connection that succeeds.
func (s *Session) connect(ctx context.Context, logger logging.Logger, addrs []string, port uint16) (net.Conn, error) {
	var (
		dialer  net.Dialer
		lastErr error
		addr    string
	)
	for i, ip := range addrs {
		addr = net.JoinHostPort(ip, strconv.Itoa(int(port)))
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		logger.Debug().Err(err).Str(logging.FieldResolved, addr).Int(logging.FieldAttempt, i+1).Msg("connect attempt failed")
		if ctx.Err() != nil {
			break
		}
	}
	return nil, &Error{Kind: KindConnect, Addr: addr, Err: lastErr}
}

func (s *Session) setState(logger logging.Logger, next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev != next {
		logger.Trace().
			Str(logging.FieldOldState, prev.String()).
			Str(logging.FieldNewState, next.String()).
			Msg("outbound session state changed")
	}
}

// shutdown half-closes both directions. A peer that already disconnected is
// not an error.
func shutdown(conn net.Conn) error {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tcp.CloseWrite(); err != nil && !notConnected(err) {
		return err
	}
	if err := tcp.CloseRead(); err != nil && !notConnected(err) {
		return err
	}
	return nil
}

func notConnected(err error) bool {
	return errors.Is(err, syscall.ENOTCONN)
}
