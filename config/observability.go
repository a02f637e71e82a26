// Package config holds configuration blocks shared by the relay's commands.
package config

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled enables the metrics, health and readiness server.
	Enabled bool `yaml:"enabled"`

	// Addr is the address to expose metrics on.
	// Default: "0.0.0.0:9090"
	Addr string `yaml:"addr"`
}

// PprofConfig contains pprof profiling configuration.
type PprofConfig struct {
	// Enabled enables pprof profiling server.
	// Default: false (disabled for production safety)
	Enabled bool `yaml:"enabled,omitempty"`

	// Addr is the address for pprof server.
	// Default: "localhost:6060" (localhost only for security)
	Addr string `yaml:"addr,omitempty"`
}

// DefaultMetricsConfig returns metrics enabled on all interfaces, port 9090.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled: true,
		Addr:    "0.0.0.0:9090",
	}
}

// DefaultPprofConfig returns pprof disabled, bound to localhost when enabled.
func DefaultPprofConfig() PprofConfig {
	return PprofConfig{
		Enabled: false,
		Addr:    "localhost:6060",
	}
}
