package relayer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/TheQuantumPhysicist/HttpRpcRelay/reactor"
	"github.com/TheQuantumPhysicist/HttpRpcRelay/transport"
)

func newTestPool(t *testing.T) *reactor.Pool {
	t.Helper()
	pool := reactor.NewPool(zerolog.Nop(), t.Name(), 2)
	t.Cleanup(pool.Close)
	return pool
}

func rawPost(body string, keepAlive bool) []byte {
	req := transport.NewRequest("POST", "/", transport.HTTP11, []byte(body))
	req.Header.Set(transport.HeaderHost, "localhost")
	req.SetKeepAlive(keepAlive)
	req.PreparePayload()

	var buf bytes.Buffer
	if err := transport.WriteRequest(&buf, req); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func okHandler(_ context.Context, req *transport.Request) *transport.Response {
	res := transport.NewResponse(200, req.Version)
	res.Body = req.Body
	res.SetKeepAlive(req.KeepAlive())
	res.PreparePayload()
	return res
}

// serveSession runs a session over an in-memory pipe and returns the client
// end plus a channel closed when Serve returns.
func serveSession(t *testing.T, ctx context.Context, handler Handler) (net.Conn, *transport.Reader, <-chan struct{}) {
	t.Helper()

	server, clientConn := net.Pipe()
	t.Cleanup(func() { _ = clientConn.Close() })

	cfg := DefaultSessionConfig()
	cfg.ReadTimeout = 2 * time.Second
	session := NewInboundSession(zerolog.Nop(), server, newTestPool(t), handler, cfg)

	done := make(chan struct{})
	go func() {
		defer close(done)
		session.Serve(ctx)
	}()
	return clientConn, transport.NewReader(clientConn, transport.DefaultLimits()), done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
}

func TestInboundSession_KeepAlive(t *testing.T) {
	var calls atomic.Int32
	conn, reader, done := serveSession(t, context.Background(), func(ctx context.Context, req *transport.Request) *transport.Response {
		calls.Add(1)
		return okHandler(ctx, req)
	})

	for _, body := range []string{`{"a":1}`, `{"b":2}`} {
		_, err := conn.Write(rawPost(body, true))
		require.NoError(t, err)
		res, err := reader.ReadResponse("POST")
		require.NoError(t, err)
		require.Equal(t, 200, res.StatusCode)
		require.Equal(t, body, string(res.Body))
	}

	_, err := conn.Write(rawPost(`{"c":3}`, false))
	require.NoError(t, err)
	res, err := reader.ReadResponse("POST")
	require.NoError(t, err)
	require.False(t, res.KeepAlive())

	waitDone(t, done)
	require.Equal(t, int32(3), calls.Load())
}

func TestInboundSession_NilHandler(t *testing.T) {
	conn, reader, _ := serveSession(t, context.Background(), nil)

	_, err := conn.Write(rawPost("{}", true))
	require.NoError(t, err)
	res, err := reader.ReadResponse("POST")
	require.NoError(t, err)
	require.Equal(t, 400, res.StatusCode)
	require.Equal(t, handlerNotSet, string(res.Body))
	require.True(t, res.KeepAlive())
}

func TestInboundSession_HandlerFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler Handler
	}{
		{name: "nil response", handler: func(context.Context, *transport.Request) *transport.Response { return nil }},
		{name: "panic", handler: func(context.Context, *transport.Request) *transport.Response { panic("boom") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, reader, done := serveSession(t, context.Background(), tt.handler)

			_, err := conn.Write(rawPost("{}", true))
			require.NoError(t, err)
			res, err := reader.ReadResponse("POST")
			require.NoError(t, err)
			require.Equal(t, 503, res.StatusCode)
			require.False(t, res.KeepAlive())
			waitDone(t, done)
		})
	}
}

func TestInboundSession_CloseDelimitedResponseEndsSession(t *testing.T) {
	conn, reader, done := serveSession(t, context.Background(), func(_ context.Context, req *transport.Request) *transport.Response {
		// HTTP/1.0 response without Content-Length is delimited by EOF.
		res := transport.NewResponse(200, transport.HTTP10)
		res.Body = []byte("until eof")
		return res
	})

	_, err := conn.Write(rawPost("{}", true))
	require.NoError(t, err)
	res, err := reader.ReadResponse("POST")
	require.NoError(t, err)
	require.Equal(t, "until eof", string(res.Body))
	waitDone(t, done)
}

func TestInboundSession_MalformedRequestEndsSession(t *testing.T) {
	var calls atomic.Int32
	conn, _, done := serveSession(t, context.Background(), func(ctx context.Context, req *transport.Request) *transport.Response {
		calls.Add(1)
		return okHandler(ctx, req)
	})

	_, err := conn.Write([]byte("NOT AN HTTP REQUEST\r\n\r\n"))
	require.NoError(t, err)
	waitDone(t, done)
	require.Zero(t, calls.Load())

	_, err = conn.Read(make([]byte, 1))
	require.True(t, errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe))
}

func TestInboundSession_PeerCloseEndsSession(t *testing.T) {
	conn, _, done := serveSession(t, context.Background(), okHandler)
	require.NoError(t, conn.Close())
	waitDone(t, done)
}

func TestInboundSession_ContextCancelAbortsRead(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	_, _, done := serveSession(t, ctx, okHandler)

	cancel()
	waitDone(t, done)
}

func TestInboundSession_DispatchKeepsHandlerResponseWhenPoolCloses(t *testing.T) {
	pool := reactor.NewPool(zerolog.Nop(), t.Name(), 1)
	t.Cleanup(pool.Close)

	entered := make(chan struct{})
	handler := func(ctx context.Context, req *transport.Request) *transport.Response {
		close(entered)
		<-ctx.Done()
		return transport.ServiceUnavailable(req, "upstream gone\n")
	}

	server, clientConn := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = clientConn.Close()
	})
	session := NewInboundSession(zerolog.Nop(), server, pool, handler, DefaultSessionConfig())

	req := transport.NewRequest("POST", "/", transport.HTTP11, []byte("{}"))
	resCh := make(chan *transport.Response, 1)
	go func() {
		resCh <- session.dispatch(pool.Context(), req)
	}()
	<-entered

	pool.Close()

	select {
	case res := <-resCh:
		require.Equal(t, 503, res.StatusCode)
		require.Equal(t, "upstream gone\n", string(res.Body), "the handler's own response is kept")
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch did not return after the pool closed")
	}
}

func TestSessionState_String(t *testing.T) {
	require.Equal(t, "reading", SessionReading.String())
	require.Equal(t, "dispatching", SessionDispatching.String())
	require.Equal(t, "writing", SessionWriting.String())
	require.Equal(t, "closing", SessionClosing.String())
	require.Equal(t, "unknown(9)", SessionState(9).String())
}
