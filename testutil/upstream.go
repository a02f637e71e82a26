//go:build test

package testutil

import (
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TheQuantumPhysicist/HttpRpcRelay/transport"
)

// UpstreamHandler produces the response for one request received by a
// StubUpstream.
type UpstreamHandler func(req *transport.Request) *transport.Response

// EchoHandler answers 200 with the request body and the request's
// keep-alive preference.
func EchoHandler(req *transport.Request) *transport.Response {
	res := transport.NewResponse(200, req.Version)
	res.Header.Set(transport.HeaderContentType, "application/json")
	res.Body = append([]byte(nil), req.Body...)
	res.SetKeepAlive(req.KeepAlive())
	res.PreparePayload()
	return res
}

// StubUpstream is a keep-alive HTTP/1.x server on a loopback port that counts
// the requests it serves.
type StubUpstream struct {
	t        *testing.T
	listener net.Listener

	handler atomic.Pointer[UpstreamHandler]
	calls   atomic.Int64

	mu       sync.Mutex
	requests []*transport.Request
	conns    map[net.Conn]struct{}
	closed   bool

	wg sync.WaitGroup
}

// NewStubUpstream starts a stub upstream serving handler. It is closed when
// the test finishes.
func NewStubUpstream(t *testing.T, handler UpstreamHandler) *StubUpstream {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	u := &StubUpstream{
		t:        t,
		listener: ln,
		conns:    make(map[net.Conn]struct{}),
	}
	u.SetHandler(handler)

	u.wg.Add(1)
	go u.acceptLoop()
	t.Cleanup(u.Close)
	return u
}

// SetHandler replaces the handler for subsequent requests.
func (u *StubUpstream) SetHandler(handler UpstreamHandler) {
	if handler == nil {
		handler = EchoHandler
	}
	u.handler.Store(&handler)
}

// Host returns the loopback IP the stub listens on.
func (u *StubUpstream) Host() string {
	return u.listener.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the port the stub listens on.
func (u *StubUpstream) Port() uint16 {
	return uint16(u.listener.Addr().(*net.TCPAddr).Port)
}

// Addr returns host:port.
func (u *StubUpstream) Addr() string {
	return net.JoinHostPort(u.Host(), strconv.Itoa(int(u.Port())))
}

// Calls returns the number of requests served.
func (u *StubUpstream) Calls() int64 {
	return u.calls.Load()
}

// Requests returns copies of the requests received so far.
func (u *StubUpstream) Requests() []*transport.Request {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]*transport.Request, len(u.requests))
	copy(out, u.requests)
	return out
}

// LastRequest returns the most recent request, or nil.
func (u *StubUpstream) LastRequest() *transport.Request {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.requests) == 0 {
		return nil
	}
	return u.requests[len(u.requests)-1]
}

// Close stops accepting, drops open connections and waits for handlers.
func (u *StubUpstream) Close() {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return
	}
	u.closed = true
	for c := range u.conns {
		_ = c.Close()
	}
	u.mu.Unlock()

	_ = u.listener.Close()
	u.wg.Wait()
}

func (u *StubUpstream) acceptLoop() {
	defer u.wg.Done()
	for {
		conn, err := u.listener.Accept()
		if err != nil {
			return
		}

		u.mu.Lock()
		if u.closed {
			u.mu.Unlock()
			_ = conn.Close()
			return
		}
		u.conns[conn] = struct{}{}
		u.mu.Unlock()

		u.wg.Add(1)
		go u.serve(conn)
	}
}

func (u *StubUpstream) serve(conn net.Conn) {
	defer u.wg.Done()
	defer func() {
		u.mu.Lock()
		delete(u.conns, conn)
		u.mu.Unlock()
		_ = conn.Close()
	}()

	reader := transport.NewReader(conn, transport.DefaultLimits())
	for {
		_ = conn.SetDeadline(time.Now().Add(30 * time.Second))
		req, err := reader.ReadRequest()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				u.t.Logf("stub upstream read error: %v", err)
			}
			return
		}

		u.calls.Add(1)
		u.mu.Lock()
		u.requests = append(u.requests, req)
		u.mu.Unlock()

		res := (*u.handler.Load())(req)
		if res == nil {
			return
		}
		if err := transport.WriteResponse(conn, res); err != nil {
			return
		}
		if !res.KeepAlive() {
			return
		}
	}
}
