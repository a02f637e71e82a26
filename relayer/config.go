package relayer

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/TheQuantumPhysicist/HttpRpcRelay/config"
	"github.com/TheQuantumPhysicist/HttpRpcRelay/filter"
	"github.com/TheQuantumPhysicist/HttpRpcRelay/logging"
	"github.com/TheQuantumPhysicist/HttpRpcRelay/transport"
)

// Config is the configuration for the relay process.
type Config struct {
	// BindAddress is the local address the relay listens on (e.g., "0.0.0.0").
	BindAddress string `yaml:"bind_address"`

	// BindPort is the local port. 0 picks an ephemeral port.
	BindPort uint16 `yaml:"bind_port"`

	// TargetAddress is the upstream host name or IP.
	TargetAddress string `yaml:"target_address"`

	// TargetPort is the upstream port.
	TargetPort uint16 `yaml:"target_port"`

	// Threads is the inbound worker count. 0 uses the number of CPUs.
	Threads int `yaml:"threads"`

	// OutboundThreads is the outbound worker count. 0 uses Threads.
	OutboundThreads int `yaml:"outbound_threads,omitempty"`

	// Filter selects the request filter and its allow-list.
	Filter filter.Config `yaml:"filter"`

	Timeouts TimeoutsConfig `yaml:"timeouts"`

	Limits LimitsConfig `yaml:"limits"`

	// DNSServers are host:port resolvers for the target. Empty uses the
	// system resolver.
	DNSServers []string `yaml:"dns_servers,omitempty"`

	// Logging configuration
	Logging logging.Config `yaml:"logging,omitempty"`

	// Metrics configuration
	Metrics config.MetricsConfig `yaml:"metrics"`

	// Pprof configuration
	Pprof config.PprofConfig `yaml:"pprof,omitempty"`
}

// TimeoutsConfig holds per-stage deadlines.
type TimeoutsConfig struct {
	// InboundRead bounds the wait for the next request on an inbound
	// connection. The same value bounds writing the response.
	// Default: 60s
	InboundRead time.Duration `yaml:"inbound_read"`

	// OutboundConnect covers resolving and connecting to the target.
	// Default: 60s
	OutboundConnect time.Duration `yaml:"outbound_connect"`

	// OutboundIO covers writing the request upstream and reading its response.
	// Default: 30s
	OutboundIO time.Duration `yaml:"outbound_io"`

	// ShutdownGrace is how long Close waits for forwarded requests in flight
	// before cancelling them. 0 cancels immediately.
	// Default: 10s
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// LimitsConfig bounds resource usage.
type LimitsConfig struct {
	transport.Limits `yaml:",inline"`

	// MaxConnections caps concurrently open inbound connections. 0 means unlimited.
	MaxConnections int `yaml:"max_connections,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults. The addresses and
// the allow-list have no default.
func DefaultConfig() Config {
	return Config{
		Filter: filter.Config{
			Kind:         filter.DefaultKind,
			MaxJSONBytes: filter.DefaultMaxJSONBytes,
		},
		Timeouts: TimeoutsConfig{
			InboundRead:     60 * time.Second,
			OutboundConnect: 60 * time.Second,
			OutboundIO:      30 * time.Second,
			ShutdownGrace:   10 * time.Second,
		},
		Limits: LimitsConfig{
			Limits: transport.DefaultLimits(),
		},
		Logging: logging.DefaultConfig(),
		Metrics: config.DefaultMetricsConfig(),
		Pprof:   config.DefaultPprofConfig(),
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.BindAddress == "" {
		return fmt.Errorf("bind_address is required")
	}
	if net.ParseIP(c.BindAddress) == nil && c.BindAddress != "localhost" {
		return fmt.Errorf("invalid bind_address: %q is not an IP address", c.BindAddress)
	}

	if c.TargetAddress == "" {
		return fmt.Errorf("target_address is required")
	}
	if c.TargetPort == 0 {
		return fmt.Errorf("target_port is required")
	}

	if strings.TrimSpace(c.Filter.Options) == "" {
		return fmt.Errorf("filter.options is required")
	}
	if c.Filter.Kind != "" && c.Filter.Kind != filter.KindJSONRPC {
		return fmt.Errorf("unknown filter.kind %q", c.Filter.Kind)
	}
	if c.Filter.MaxJSONBytes < 0 {
		return fmt.Errorf("filter.max_json_bytes must not be negative")
	}

	if c.Threads < 0 {
		return fmt.Errorf("threads must not be negative")
	}
	if c.OutboundThreads < 0 {
		return fmt.Errorf("outbound_threads must not be negative")
	}

	if c.Timeouts.InboundRead <= 0 {
		return fmt.Errorf("timeouts.inbound_read must be positive")
	}
	if c.Timeouts.OutboundConnect <= 0 {
		return fmt.Errorf("timeouts.outbound_connect must be positive")
	}
	if c.Timeouts.OutboundIO <= 0 {
		return fmt.Errorf("timeouts.outbound_io must be positive")
	}
	if c.Timeouts.ShutdownGrace < 0 {
		return fmt.Errorf("timeouts.shutdown_grace must not be negative")
	}

	if c.Limits.MaxHeaderBytes <= 0 {
		return fmt.Errorf("limits.max_header_bytes must be positive")
	}
	if c.Limits.MaxBodyBytes <= 0 {
		return fmt.Errorf("limits.max_body_bytes must be positive")
	}
	if c.Limits.MaxConnections < 0 {
		return fmt.Errorf("limits.max_connections must not be negative")
	}

	for i, server := range c.DNSServers {
		if _, _, err := net.SplitHostPort(server); err != nil {
			return fmt.Errorf("dns_servers[%d] is invalid: %w", i, err)
		}
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	return nil
}

// ListenAddr returns bind_address:bind_port.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.BindAddress, fmt.Sprint(c.BindPort))
}

// TargetAddr returns target_address:target_port.
func (c *Config) TargetAddr() string {
	return net.JoinHostPort(c.TargetAddress, fmt.Sprint(c.TargetPort))
}

// GetOutboundThreads returns the outbound worker count.
func (c *Config) GetOutboundThreads() int {
	if c.OutboundThreads > 0 {
		return c.OutboundThreads
	}
	return c.Threads
}

// ParseConfig parses YAML on top of DefaultConfig without validating.
func ParseConfig(data []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &config, nil
}

// LoadConfig loads a relay configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}
