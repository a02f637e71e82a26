//go:build test

package testutil

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TheQuantumPhysicist/HttpRpcRelay/transport"
)

// RawClient speaks HTTP/1.x over a single TCP connection so tests control
// keep-alive and framing exactly.
type RawClient struct {
	t      *testing.T
	conn   net.Conn
	reader *transport.Reader
}

// DialRaw connects to addr. The connection is closed when the test finishes.
func DialRaw(t *testing.T, addr string) *RawClient {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &RawClient{
		t:      t,
		conn:   conn,
		reader: transport.NewReader(conn, transport.DefaultLimits()),
	}
}

// Conn exposes the underlying connection.
func (c *RawClient) Conn() net.Conn {
	return c.conn
}

// Send writes req and reads one response.
func (c *RawClient) Send(req *transport.Request) (*transport.Response, error) {
	_ = c.conn.SetDeadline(time.Now().Add(10 * time.Second))
	if err := transport.WriteRequest(c.conn, req); err != nil {
		return nil, err
	}
	return c.reader.ReadResponse(req.Method)
}

// SendRaw writes bytes as-is and reads one response to a request with the
// given method.
func (c *RawClient) SendRaw(raw []byte, method string) (*transport.Response, error) {
	_ = c.conn.SetDeadline(time.Now().Add(10 * time.Second))
	if _, err := c.conn.Write(raw); err != nil {
		return nil, err
	}
	return c.reader.ReadResponse(method)
}

// ExpectClosed asserts the peer closes the connection without sending more data.
func (c *RawClient) ExpectClosed() {
	c.t.Helper()

	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 1)
	n, err := c.conn.Read(buf)
	require.Zero(c.t, n)
	require.ErrorIs(c.t, err, io.EOF)
}

// PostJSON builds a POST / request carrying body with the given keep-alive
// preference.
func PostJSON(body []byte, keepAlive bool) *transport.Request {
	req := transport.NewRequest("POST", "/", transport.HTTP11, body)
	req.Header.Set(transport.HeaderHost, "localhost")
	req.Header.Set(transport.HeaderContentType, "application/json")
	req.SetKeepAlive(keepAlive)
	req.PreparePayload()
	return req
}
