//go:build test

// Package testutil holds helpers shared by the relay's package tests: a stub
// upstream server, a raw HTTP/1.x client and deterministic JSON-RPC bodies.
package testutil

import (
	"math/rand"
	"os"
)

const (
	// DefaultConcurrency is the number of parallel clients in regular runs.
	DefaultConcurrency = 20
	// NightlyConcurrency is used when TEST_MODE=nightly.
	NightlyConcurrency = 200

	// DefaultIterations is the number of sequential requests per client.
	DefaultIterations = 5
	// NightlyIterations is used when TEST_MODE=nightly.
	NightlyIterations = 50
)

// IsNightlyMode reports whether TEST_MODE=nightly is set.
func IsNightlyMode() bool {
	return os.Getenv("TEST_MODE") == "nightly"
}

// GetTestConcurrency returns the client count for concurrency tests.
func GetTestConcurrency() int {
	if IsNightlyMode() {
		return NightlyConcurrency
	}
	return DefaultConcurrency
}

// GetTestIterations returns the per-client request count for concurrency tests.
func GetTestIterations() int {
	if IsNightlyMode() {
		return NightlyIterations
	}
	return DefaultIterations
}

// GenerateDeterministicString returns a lowercase alphanumeric string that
// only depends on seed and length.
func GenerateDeterministicString(seed, length int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	r := rand.New(rand.NewSource(int64(seed)))
	b := make([]byte, length)
	for i := range b {
		b[i] = alphabet[r.Intn(len(alphabet))]
	}
	return string(b)
}
