package transport

import "errors"

var (
	// ErrMalformedMessage is returned for a start line, header field or
	// framing that does not follow HTTP/1.x syntax.
	ErrMalformedMessage = errors.New("malformed http message")

	// ErrHeaderTooLarge is returned when the start line and header section
	// exceed Limits.MaxHeaderBytes.
	ErrHeaderTooLarge = errors.New("http header section too large")

	// ErrBodyTooLarge is returned when a body exceeds Limits.MaxBodyBytes.
	ErrBodyTooLarge = errors.New("http body too large")
)
