package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequest_KeepAlive(t *testing.T) {
	tests := []struct {
		name       string
		version    Version
		connection []string
		want       bool
	}{
		{name: "1.1 default", version: HTTP11, want: true},
		{name: "1.1 close", version: HTTP11, connection: []string{"close"}, want: false},
		{name: "1.1 close mixed case in list", version: HTTP11, connection: []string{"Upgrade, Close"}, want: false},
		{name: "1.0 default", version: HTTP10, want: false},
		{name: "1.0 keep-alive", version: HTTP10, connection: []string{"Keep-Alive"}, want: true},
		{name: "1.0 keep-alive second field", version: HTTP10, connection: []string{"foo", "keep-alive"}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := NewRequest("POST", "/", tt.version, nil)
			for _, c := range tt.connection {
				req.Header.Add("connection", c)
			}
			require.Equal(t, tt.want, req.KeepAlive())
		})
	}
}

func TestSetKeepAlive(t *testing.T) {
	res := NewResponse(200, HTTP11)
	res.SetKeepAlive(true)
	require.False(t, res.Header.Has(HeaderConnection), "1.1 keep-alive is implicit")

	res.SetKeepAlive(false)
	require.Equal(t, "close", res.Header.Get(HeaderConnection))
	require.True(t, res.NeedEOF())

	old := NewResponse(200, HTTP10)
	old.Header.Add("Connection", "Upgrade")
	old.SetKeepAlive(true)
	require.Equal(t, "upgrade, keep-alive", old.Header.Get(HeaderConnection))
	require.False(t, old.NeedEOF())
}

func TestBadRequest(t *testing.T) {
	req := NewRequest("POST", "/", HTTP11, []byte("xxx"))
	res := BadRequest(req, "Failed to validate request\n")

	require.Equal(t, 400, res.StatusCode)
	require.Equal(t, "Bad Request", res.Reason)
	require.Equal(t, "text/html", res.Header.Get(HeaderContentType))
	require.Equal(t, ServerName, res.Header.Get(HeaderServer))
	require.Equal(t, "27", res.Header.Get(HeaderContentLength))
	require.True(t, res.KeepAlive(), "keep-alive mirrors the request")
}

func TestServiceUnavailable_MirrorsClose(t *testing.T) {
	req := NewRequest("POST", "/", HTTP11, nil)
	req.Header.Add("Connection", "close")

	res := ServiceUnavailable(req, "upstream down")
	require.Equal(t, 503, res.StatusCode)
	require.True(t, res.NeedEOF())
	require.Equal(t, "upstream down", string(res.Body))
}

func TestPreparePayload_Request(t *testing.T) {
	get := NewRequest("GET", "/", HTTP11, nil)
	get.PreparePayload()
	require.False(t, get.Header.Has(HeaderContentLength))

	post := NewRequest("POST", "/", HTTP11, nil)
	post.Header.Add("Transfer-Encoding", "chunked")
	post.PreparePayload()
	require.Equal(t, "0", post.Header.Get(HeaderContentLength))
	require.False(t, post.Chunked())
}
