package filter

import (
	"errors"
	"fmt"
)

// DefaultMaxJSONBytes caps how many bytes of a single unfinished object the
// detector will buffer.
const DefaultMaxJSONBytes = 1 << 14

var (
	// ErrMalformedBrackets is returned when a closing brace appears with no
	// matching opening brace.
	ErrMalformedBrackets = errors.New("malformed brackets")

	// ErrOversizedInput is returned when the unparsed buffer grows past the cap.
	ErrOversizedInput = errors.New("oversized input")
)

// BracketError carries the unparsed buffer that produced ErrMalformedBrackets.
type BracketError struct {
	Buffer []byte
}

func (e *BracketError) Error() string {
	return fmt.Sprintf("%s: %q", ErrMalformedBrackets, e.Buffer)
}

func (e *BracketError) Unwrap() error {
	return ErrMalformedBrackets
}

// BoundaryDetector splits an incrementally appended byte stream into complete
// top-level {...} spans by counting braces. It does not validate JSON: braces
// inside string literals are counted like any other.
//
// A BoundaryDetector is not safe for concurrent use.
type BoundaryDetector struct {
	buf      []byte
	cursor   int
	depth    int
	maxBytes int
	spans    [][]byte
}

// NewBoundaryDetector returns a detector that fails once more than maxBytes
// of an unfinished span are buffered. maxBytes <= 0 selects DefaultMaxJSONBytes.
func NewBoundaryDetector(maxBytes int) *BoundaryDetector {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxJSONBytes
	}
	return &BoundaryDetector{maxBytes: maxBytes}
}

// Push appends data and scans it. Every time the depth returns to zero, the
// bytes from the previous boundary up to and including the closing brace are
// queued as a span and dropped from the buffer.
func (d *BoundaryDetector) Push(data []byte) error {
	d.buf = append(d.buf, data...)

	for d.cursor < len(d.buf) {
		if d.cursor >= d.maxBytes {
			return fmt.Errorf("%w: more than %d bytes without a complete object", ErrOversizedInput, d.maxBytes)
		}

		switch d.buf[d.cursor] {
		case '{':
			d.depth++
		case '}':
			d.depth--
			if d.depth < 0 {
				return &BracketError{Buffer: append([]byte(nil), d.buf...)}
			}
			if d.depth == 0 {
				span := make([]byte, d.cursor+1)
				copy(span, d.buf[:d.cursor+1])
				d.spans = append(d.spans, span)
				d.buf = d.buf[d.cursor+1:]
				d.cursor = 0
				continue
			}
		}
		d.cursor++
	}
	return nil
}

// Drain returns the completed spans and clears the queue. The scan position
// and depth carry over to the next Push.
func (d *BoundaryDetector) Drain() [][]byte {
	spans := d.spans
	d.spans = nil
	return spans
}

// Pending returns the bytes pushed but not yet part of a completed span.
func (d *BoundaryDetector) Pending() []byte {
	return d.buf
}

// Depth returns the current brace depth.
func (d *BoundaryDetector) Depth() int {
	return d.depth
}
