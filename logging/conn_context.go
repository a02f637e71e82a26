package logging

import (
	"github.com/rs/zerolog"
)

// RequestContext contains per-request fields for structured logging. The
// remote address is carried by the connection logger.
type RequestContext struct {
	HTTPMethod string
	Path       string
	Version    string
}

// WithRequestContext adds all non-empty request context fields to a log event.
func WithRequestContext(event *zerolog.Event, ctx *RequestContext) *zerolog.Event {
	if ctx == nil {
		return event
	}

	if ctx.HTTPMethod != "" {
		event = event.Str(FieldHTTPMethod, ctx.HTTPMethod)
	}
	if ctx.Path != "" {
		event = event.Str(FieldPath, ctx.Path)
	}
	if ctx.Version != "" {
		event = event.Str(FieldVersion, ctx.Version)
	}

	return event
}
