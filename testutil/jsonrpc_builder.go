//go:build test

package testutil

import (
	"encoding/json"
	"fmt"
)

// JSONRPCBuilder builds deterministic JSON-RPC 2.0 request bodies. The same
// seed always produces the same body.
//
// Usage:
//
//	body := testutil.NewJSONRPCBuilder(42).
//	    WithMethod("eth_blockNumber").
//	    Build()
type JSONRPCBuilder struct {
	seed int

	method *string
	params any
	id     *int
}

// NewJSONRPCBuilder creates a builder for the given seed.
func NewJSONRPCBuilder(seed int) *JSONRPCBuilder {
	return &JSONRPCBuilder{seed: seed}
}

// WithMethod sets the method member.
func (b *JSONRPCBuilder) WithMethod(method string) *JSONRPCBuilder {
	b.method = &method
	return b
}

// WithParams sets the params member.
func (b *JSONRPCBuilder) WithParams(params any) *JSONRPCBuilder {
	b.params = params
	return b
}

// WithID sets the id member.
func (b *JSONRPCBuilder) WithID(id int) *JSONRPCBuilder {
	b.id = &id
	return b
}

// MethodName returns the method the builder will emit.
func (b *JSONRPCBuilder) MethodName() string {
	if b.method != nil {
		return *b.method
	}
	return "method_" + GenerateDeterministicString(b.seed, 8)
}

// Build returns the encoded body.
func (b *JSONRPCBuilder) Build() []byte {
	id := b.seed + 1
	if b.id != nil {
		id = *b.id
	}
	params := b.params
	if params == nil {
		params = []int{b.seed, b.seed * 2}
	}

	body, err := json.Marshal(struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		Params  any    `json:"params"`
		ID      int    `json:"id"`
	}{
		JSONRPC: "2.0",
		Method:  b.MethodName(),
		Params:  params,
		ID:      id,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to encode JSON-RPC body: %v", err))
	}
	return body
}

// BuildN builds n bodies with seeds seed, seed+1, ... keeping explicit overrides.
func (b *JSONRPCBuilder) BuildN(n int) [][]byte {
	bodies := make([][]byte, n)
	for i := 0; i < n; i++ {
		builder := NewJSONRPCBuilder(b.seed + i)
		builder.method = b.method
		builder.params = b.params
		bodies[i] = builder.Build()
	}
	return bodies
}
