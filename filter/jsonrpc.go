package filter

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/TheQuantumPhysicist/HttpRpcRelay/logging"
	"github.com/TheQuantumPhysicist/HttpRpcRelay/transport"
)

// Rejection reasons, used as log fields and metric labels.
const (
	reasonNoJSON            = "no_json"
	reasonMultipleJSON      = "multiple_json"
	reasonMalformedBrackets = "malformed_brackets"
	reasonOversized         = "oversized"
	reasonTrailingData      = "trailing_data"
	reasonParseError        = "parse_error"
	reasonMissingMethod     = "missing_method"
	reasonInvalidMethod     = "invalid_method"
	reasonNotAllowed        = "method_not_allowed"
	reasonInternal          = "internal_error"
)

// JSONRPCFilter allows a request when its body holds exactly one JSON object
// whose "method" member is a string in the allow-list. Method names match
// exactly and case-sensitively.
//
// The allow-list may be changed while Test runs on other goroutines.
type JSONRPCFilter struct {
	logger       logging.Logger
	allowed      *xsync.Map[string, struct{}]
	maxJSONBytes int
}

var _ Filter = (*JSONRPCFilter)(nil)

// NewJSONRPCFilter returns a filter with an empty allow-list, which rejects
// everything. maxJSONBytes <= 0 selects DefaultMaxJSONBytes.
func NewJSONRPCFilter(logger logging.Logger, maxJSONBytes int) *JSONRPCFilter {
	return &JSONRPCFilter{
		logger:       logging.ForComponent(logger, logging.ComponentJSONRPCFilter),
		allowed:      xsync.NewMap[string, struct{}](),
		maxJSONBytes: maxJSONBytes,
	}
}

// Test reports whether req may be forwarded. Every rejection is logged with
// its reason; nothing is returned to the caller but false.
func (f *JSONRPCFilter) Test(req *transport.Request) bool {
	var allowed bool
	err := logging.RecoverWithLogger(f.logger, logging.ComponentJSONRPCFilter, "test", func() error {
		allowed = f.test(req)
		return nil
	})
	if err != nil {
		f.reject(reasonInternal, "", err)
		return false
	}
	return allowed
}

func (f *JSONRPCFilter) test(req *transport.Request) bool {
	if req == nil {
		f.reject(reasonNoJSON, "", nil)
		return false
	}

	detector := NewBoundaryDetector(f.maxJSONBytes)
	if err := detector.Push(req.Body); err != nil {
		switch {
		case errors.Is(err, ErrMalformedBrackets):
			f.reject(reasonMalformedBrackets, "", err)
		case errors.Is(err, ErrOversizedInput):
			f.reject(reasonOversized, "", err)
		default:
			f.reject(reasonParseError, "", err)
		}
		return false
	}

	spans := detector.Drain()
	switch {
	case len(spans) == 0:
		f.reject(reasonNoJSON, "", nil)
		return false
	case len(spans) > 1:
		f.reject(reasonMultipleJSON, "", nil)
		return false
	}
	if len(bytes.TrimSpace(detector.Pending())) != 0 {
		f.reject(reasonTrailingData, "", nil)
		return false
	}

	var call map[string]json.RawMessage
	if err := json.Unmarshal(spans[0], &call); err != nil {
		f.reject(reasonParseError, "", err)
		return false
	}

	raw, ok := call["method"]
	if !ok {
		f.reject(reasonMissingMethod, "", nil)
		return false
	}

	var method string
	if err := json.Unmarshal(raw, &method); err != nil {
		f.reject(reasonInvalidMethod, "", err)
		return false
	}

	if !f.AllowedMethodExists(method) {
		f.reject(reasonNotAllowed, method, nil)
		return false
	}

	f.logger.Debug().Str(logging.FieldMethod, method).Msg("request allowed")
	return true
}

func (f *JSONRPCFilter) reject(reason, method string, err error) {
	filterRejectionsTotal.WithLabelValues(reason).Inc()

	event := f.logger.Info().Str(logging.FieldReason, reason)
	if method != "" {
		event = event.Str(logging.FieldMethod, method)
	}
	if err != nil {
		event = event.Err(err)
	}
	event.Msg("request rejected by filter")
}

// AddAllowedMethod adds method to the allow-list.
func (f *JSONRPCFilter) AddAllowedMethod(method string) {
	f.allowed.Store(method, struct{}{})
}

// RemoveAllowedMethodIfExists removes method from the allow-list if present.
func (f *JSONRPCFilter) RemoveAllowedMethodIfExists(method string) {
	f.allowed.Delete(method)
}

// AllowedMethodExists reports whether method is in the allow-list.
func (f *JSONRPCFilter) AllowedMethodExists(method string) bool {
	_, ok := f.allowed.Load(method)
	return ok
}

// AllowedMethods returns the allow-list in sorted order.
func (f *JSONRPCFilter) AllowedMethods() []string {
	methods := make([]string, 0, f.allowed.Size())
	f.allowed.Range(func(method string, _ struct{}) bool {
		methods = append(methods, method)
		return true
	})
	sort.Strings(methods)
	return methods
}

// ApplyOptions splits a comma-separated list of method names, trims the
// whitespace around each, and adds them to the allow-list. Empty tokens are
// skipped.
func (f *JSONRPCFilter) ApplyOptions(options string) {
	for _, method := range ParseMethodList(options) {
		f.AddAllowedMethod(method)
	}
}

// ReplaceAllowedMethods makes the allow-list equal to methods, adding and
// removing one method at a time so concurrent Test calls always see a
// consistent membership answer for each method.
func (f *JSONRPCFilter) ReplaceAllowedMethods(methods []string) {
	want := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		want[m] = struct{}{}
		f.AddAllowedMethod(m)
	}
	for _, m := range f.AllowedMethods() {
		if _, ok := want[m]; !ok {
			f.RemoveAllowedMethodIfExists(m)
		}
	}
}

// ParseMethodList splits options on commas and trims each token.
func ParseMethodList(options string) []string {
	var methods []string
	for _, tok := range strings.Split(options, ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			methods = append(methods, tok)
		}
	}
	return methods
}
