// Package filter decides whether an inbound request may be forwarded upstream.
package filter

import (
	"fmt"
	"strings"

	"github.com/TheQuantumPhysicist/HttpRpcRelay/logging"
	"github.com/TheQuantumPhysicist/HttpRpcRelay/transport"
)

// Filter is the predicate the relay runs before any upstream connection is made.
// Test must never panic and must be safe for concurrent use.
type Filter interface {
	Test(req *transport.Request) bool
}

// Known filter kinds.
const (
	KindJSONRPC = "jsonrpc"
)

// DefaultKind is used when no kind is configured.
const DefaultKind = KindJSONRPC

// Config selects and configures a filter.
type Config struct {
	// Kind is the filter kind. Only "jsonrpc" is known.
	Kind string `yaml:"kind"`

	// Options is the kind-specific option string. For "jsonrpc" it is a
	// comma-separated list of allowed method names.
	Options string `yaml:"options"`

	// File is an optional allow-list file watched for changes.
	File string `yaml:"file,omitempty"`

	// MaxJSONBytes caps a single JSON object in a request body.
	MaxJSONBytes int `yaml:"max_json_bytes,omitempty"`
}

// New builds the filter selected by config.Kind and applies its options.
func New(logger logging.Logger, config Config) (Filter, error) {
	kind := strings.TrimSpace(config.Kind)
	if kind == "" {
		kind = DefaultKind
	}

	switch kind {
	case KindJSONRPC:
		f := NewJSONRPCFilter(logger, config.MaxJSONBytes)
		f.ApplyOptions(config.Options)
		return f, nil
	default:
		return nil, fmt.Errorf("unknown filter kind %q", config.Kind)
	}
}
