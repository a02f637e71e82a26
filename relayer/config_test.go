package relayer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.BindAddress = "0.0.0.0"
	cfg.BindPort = 8080
	cfg.TargetAddress = "node.example.com"
	cfg.TargetPort = 8545
	cfg.Filter.Options = "eth_call"
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "localhost bind", mutate: func(c *Config) { c.BindAddress = "localhost" }},
		{name: "ipv6 bind", mutate: func(c *Config) { c.BindAddress = "::1" }},
		{name: "missing bind address", mutate: func(c *Config) { c.BindAddress = "" }, wantErr: "bind_address is required"},
		{name: "hostname bind", mutate: func(c *Config) { c.BindAddress = "example.com" }, wantErr: "invalid bind_address"},
		{name: "missing target", mutate: func(c *Config) { c.TargetAddress = "" }, wantErr: "target_address is required"},
		{name: "missing target port", mutate: func(c *Config) { c.TargetPort = 0 }, wantErr: "target_port is required"},
		{name: "missing options", mutate: func(c *Config) { c.Filter.Options = "" }, wantErr: "filter.options is required"},
		{name: "blank options", mutate: func(c *Config) { c.Filter.Options = "  " }, wantErr: "filter.options is required"},
		{name: "unknown kind", mutate: func(c *Config) { c.Filter.Kind = "graphql" }, wantErr: "unknown filter.kind"},
		{name: "negative threads", mutate: func(c *Config) { c.Threads = -1 }, wantErr: "threads must not be negative"},
		{name: "zero inbound timeout", mutate: func(c *Config) { c.Timeouts.InboundRead = 0 }, wantErr: "timeouts.inbound_read"},
		{name: "zero connect timeout", mutate: func(c *Config) { c.Timeouts.OutboundConnect = 0 }, wantErr: "timeouts.outbound_connect"},
		{name: "zero io timeout", mutate: func(c *Config) { c.Timeouts.OutboundIO = 0 }, wantErr: "timeouts.outbound_io"},
		{name: "negative shutdown grace", mutate: func(c *Config) { c.Timeouts.ShutdownGrace = -time.Second }, wantErr: "timeouts.shutdown_grace"},
		{name: "zero shutdown grace", mutate: func(c *Config) { c.Timeouts.ShutdownGrace = 0 }},
		{name: "zero header limit", mutate: func(c *Config) { c.Limits.MaxHeaderBytes = 0 }, wantErr: "limits.max_header_bytes"},
		{name: "negative max connections", mutate: func(c *Config) { c.Limits.MaxConnections = -1 }, wantErr: "limits.max_connections"},
		{name: "bad dns server", mutate: func(c *Config) { c.DNSServers = []string{"1.1.1.1"} }, wantErr: "dns_servers[0]"},
		{name: "metrics without addr", mutate: func(c *Config) { c.Metrics.Addr = "" }, wantErr: "metrics.addr is required"},
		{name: "metrics disabled without addr", mutate: func(c *Config) { c.Metrics.Enabled = false; c.Metrics.Addr = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Addresses(t *testing.T) {
	cfg := validConfig()
	require.Equal(t, "0.0.0.0:8080", cfg.ListenAddr())
	require.Equal(t, "node.example.com:8545", cfg.TargetAddr())

	cfg.BindAddress = "::1"
	require.Equal(t, "[::1]:8080", cfg.ListenAddr())
}

func TestConfig_GetOutboundThreads(t *testing.T) {
	cfg := validConfig()
	cfg.Threads = 4
	require.Equal(t, 4, cfg.GetOutboundThreads())

	cfg.OutboundThreads = 16
	require.Equal(t, 16, cfg.GetOutboundThreads())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
bind_address: 127.0.0.1
bind_port: 8080
target_address: 10.0.0.5
target_port: 8545
threads: 8
filter:
  options: "eth_call, eth_blockNumber"
  file: /etc/httprpcrelay/methods.txt
timeouts:
  outbound_io: 5s
limits:
  max_body_bytes: 1048576
  max_connections: 100
dns_servers:
  - 1.1.1.1:53
logging:
  level: debug
  format: json
metrics:
  enabled: true
  addr: 127.0.0.1:9191
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1", cfg.BindAddress)
	require.Equal(t, uint16(8080), cfg.BindPort)
	require.Equal(t, "10.0.0.5", cfg.TargetAddress)
	require.Equal(t, uint16(8545), cfg.TargetPort)
	require.Equal(t, 8, cfg.Threads)
	require.Equal(t, "eth_call, eth_blockNumber", cfg.Filter.Options)
	require.Equal(t, "/etc/httprpcrelay/methods.txt", cfg.Filter.File)
	require.Equal(t, 5*time.Second, cfg.Timeouts.OutboundIO)
	require.Equal(t, 60*time.Second, cfg.Timeouts.InboundRead, "unset fields keep defaults")
	require.Equal(t, 10*time.Second, cfg.Timeouts.ShutdownGrace)
	require.Equal(t, int64(1048576), int64(cfg.Limits.MaxBodyBytes))
	require.Equal(t, 100, cfg.Limits.MaxConnections)
	require.Equal(t, []string{"1.1.1.1:53"}, cfg.DNSServers)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "127.0.0.1:9191", cfg.Metrics.Addr)
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.ErrorContains(t, err, "failed to read config file")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("bind_address: [\n"), 0o600))
	_, err = LoadConfig(bad)
	require.ErrorContains(t, err, "failed to parse config file")

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("bind_address: 127.0.0.1\n"), 0o600))
	_, err = LoadConfig(invalid)
	require.ErrorContains(t, err, "invalid config")
}
