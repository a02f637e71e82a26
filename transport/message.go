package transport

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Version is an HTTP/1.x protocol version encoded as major*10+minor.
type Version int

const (
	HTTP10 Version = 10
	HTTP11 Version = 11
)

// String returns the wire form, e.g. "HTTP/1.1".
func (v Version) String() string {
	return fmt.Sprintf("HTTP/%d.%d", int(v)/10, int(v)%10)
}

// ParseVersion parses "HTTP/1.0" or "HTTP/1.1".
func ParseVersion(s string) (Version, error) {
	switch s {
	case "HTTP/1.1":
		return HTTP11, nil
	case "HTTP/1.0":
		return HTTP10, nil
	default:
		return 0, fmt.Errorf("%w: unsupported protocol version %q", ErrMalformedMessage, s)
	}
}

// Header field names the transport layer reads or stamps.
const (
	HeaderConnection       = "Connection"
	HeaderContentLength    = "Content-Length"
	HeaderContentType      = "Content-Type"
	HeaderHost             = "Host"
	HeaderServer           = "Server"
	HeaderTransferEncoding = "Transfer-Encoding"
	HeaderUserAgent        = "User-Agent"
)

// Request is one HTTP/1.x request. Header order and spelling are preserved so
// the request can be replayed upstream as received.
type Request struct {
	Method  string
	Target  string
	Version Version
	Header  Header
	Body    []byte
}

// NewRequest creates a request with an empty header.
func NewRequest(method, target string, version Version, body []byte) *Request {
	return &Request{
		Method:  method,
		Target:  target,
		Version: version,
		Body:    body,
	}
}

// KeepAlive reports whether the sender wants the connection kept open
// after this exchange.
func (r *Request) KeepAlive() bool {
	return keepAlive(r.Version, &r.Header)
}

// SetKeepAlive rewrites the Connection field to express ka for the request's version.
func (r *Request) SetKeepAlive(ka bool) {
	setKeepAlive(r.Version, &r.Header, ka)
}

// Chunked reports whether the body is framed with chunked transfer coding.
func (r *Request) Chunked() bool {
	return chunked(&r.Header)
}

// PreparePayload sets Content-Length to the body size and drops
// Transfer-Encoding. Requests without a body only get a Content-Length when a
// body is customary for the method.
func (r *Request) PreparePayload() {
	r.Header.Del(HeaderTransferEncoding)
	if len(r.Body) == 0 && !methodExpectsBody(r.Method) {
		r.Header.Del(HeaderContentLength)
		return
	}
	r.Header.Set(HeaderContentLength, strconv.Itoa(len(r.Body)))
}

func methodExpectsBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

// Response is one HTTP/1.x response.
type Response struct {
	Version    Version
	StatusCode int
	Reason     string
	Header     Header
	Body       []byte

	// closeDelimited is set when the body was framed by the peer closing the
	// connection; such a response can never be followed by another on the
	// same connection.
	closeDelimited bool
}

// NewResponse creates a response with the standard reason phrase for status.
func NewResponse(status int, version Version) *Response {
	return &Response{
		Version:    version,
		StatusCode: status,
		Reason:     http.StatusText(status),
	}
}

// KeepAlive reports whether the connection may carry another exchange after
// this response.
func (r *Response) KeepAlive() bool {
	if r.closeDelimited {
		return false
	}
	return keepAlive(r.Version, &r.Header)
}

// SetKeepAlive rewrites the Connection field to express ka for the response's version.
func (r *Response) SetKeepAlive(ka bool) {
	setKeepAlive(r.Version, &r.Header, ka)
}

// NeedEOF reports whether the connection must be closed once this response
// has been written.
func (r *Response) NeedEOF() bool {
	return !r.KeepAlive()
}

// Chunked reports whether the body is framed with chunked transfer coding.
func (r *Response) Chunked() bool {
	return chunked(&r.Header)
}

// PreparePayload sets Content-Length to the body size and drops Transfer-Encoding.
func (r *Response) PreparePayload() {
	r.Header.Del(HeaderTransferEncoding)
	if !bodyAllowed(r.StatusCode) {
		r.Header.Del(HeaderContentLength)
		return
	}
	r.Header.Set(HeaderContentLength, strconv.Itoa(len(r.Body)))
}

func bodyAllowed(status int) bool {
	return status >= 200 && status != http.StatusNoContent && status != http.StatusNotModified
}

func keepAlive(v Version, h *Header) bool {
	if v >= HTTP11 {
		return !h.hasToken(HeaderConnection, "close")
	}
	return h.hasToken(HeaderConnection, "keep-alive")
}

func setKeepAlive(v Version, h *Header, ka bool) {
	var kept []string
	for _, tok := range h.tokens(HeaderConnection) {
		if tok != "close" && tok != "keep-alive" {
			kept = append(kept, tok)
		}
	}

	switch {
	case v >= HTTP11 && !ka:
		kept = append(kept, "close")
	case v < HTTP11 && ka:
		kept = append(kept, "keep-alive")
	}

	if len(kept) == 0 {
		h.Del(HeaderConnection)
		return
	}
	h.Set(HeaderConnection, strings.Join(kept, ", "))
}

func chunked(h *Header) bool {
	toks := h.tokens(HeaderTransferEncoding)
	return len(toks) > 0 && toks[len(toks)-1] == "chunked"
}
