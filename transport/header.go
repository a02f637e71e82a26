package transport

import (
	"strings"
)

// Field is a single header field as it appeared on the wire.
type Field struct {
	Name  string
	Value string
}

// Header is an ordered list of header fields. Insertion order is preserved
// and names keep their original spelling; lookups are case-insensitive.
type Header struct {
	fields []Field
}

// Add appends a field, keeping any existing fields with the same name.
func (h *Header) Add(name, value string) {
	h.fields = append(h.fields, Field{Name: name, Value: value})
}

// Set replaces the value of the first field named name and drops any later
// duplicates. If no such field exists, it is appended.
func (h *Header) Set(name, value string) {
	for i := range h.fields {
		if strings.EqualFold(h.fields[i].Name, name) {
			h.fields[i].Value = value
			h.removeFrom(i+1, name)
			return
		}
	}
	h.Add(name, value)
}

// Get returns the value of the first field named name, or "".
func (h *Header) Get(name string) string {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Values returns the values of every field named name, in order.
func (h *Header) Values(name string) []string {
	var values []string
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			values = append(values, f.Value)
		}
	}
	return values
}

// Has reports whether at least one field is named name.
func (h *Header) Has(name string) bool {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// Del removes every field named name.
func (h *Header) Del(name string) {
	h.removeFrom(0, name)
}

func (h *Header) removeFrom(start int, name string) {
	kept := h.fields[:start]
	for _, f := range h.fields[start:] {
		if !strings.EqualFold(f.Name, name) {
			kept = append(kept, f)
		}
	}
	h.fields = kept
}

// Fields returns a copy of the fields in wire order.
func (h *Header) Fields() []Field {
	out := make([]Field, len(h.fields))
	copy(out, h.fields)
	return out
}

// Len returns the number of fields.
func (h *Header) Len() int {
	return len(h.fields)
}

// Clone returns a deep copy of the header.
func (h *Header) Clone() Header {
	return Header{fields: h.Fields()}
}

// tokens returns the comma-separated, lower-cased tokens of every field named name.
func (h *Header) tokens(name string) []string {
	var out []string
	for _, v := range h.Values(name) {
		for _, tok := range strings.Split(v, ",") {
			tok = strings.ToLower(strings.TrimSpace(tok))
			if tok != "" {
				out = append(out, tok)
			}
		}
	}
	return out
}

// hasToken reports whether the comma-separated list in name contains token.
func (h *Header) hasToken(name, token string) bool {
	for _, tok := range h.tokens(name) {
		if tok == token {
			return true
		}
	}
	return false
}
