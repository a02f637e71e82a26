package transport

import (
	"net/http"
)

// ServerName is stamped into the Server and User-Agent fields of messages the
// relay synthesizes. cmd overrides it with the build version at startup.
var ServerName = "httprpcrelay"

// BadRequest builds the 400 response sent for a request that must not be
// forwarded. Keep-alive semantics mirror the request.
func BadRequest(req *Request, reason string) *Response {
	return errorResponse(req, http.StatusBadRequest, reason)
}

// ServiceUnavailable builds the 503 response sent when the upstream could not
// produce a response.
func ServiceUnavailable(req *Request, reason string) *Response {
	return errorResponse(req, http.StatusServiceUnavailable, reason)
}

func errorResponse(req *Request, status int, reason string) *Response {
	version := HTTP11
	keepAlive := true
	if req != nil {
		version = req.Version
		keepAlive = req.KeepAlive()
	}

	res := NewResponse(status, version)
	res.Header.Set(HeaderServer, ServerName)
	res.Header.Set(HeaderContentType, "text/html")
	res.SetKeepAlive(keepAlive)
	res.Body = []byte(reason)
	res.PreparePayload()
	return res
}
