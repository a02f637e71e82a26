package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/TheQuantumPhysicist/HttpRpcRelay/logging"
	"github.com/TheQuantumPhysicist/HttpRpcRelay/observability"
	"github.com/TheQuantumPhysicist/HttpRpcRelay/relayer"
)

const (
	flagConfig        = "config"
	flagBindAddress   = "bind_address"
	flagBindPort      = "bind_port"
	flagTargetAddress = "target_address"
	flagTargetPort    = "target_port"
	flagThreads       = "threads"
	flagFilterKind    = "filter_kind"
	flagFilterOptions = "filter_options"
	flagFilterFile    = "filter_file"
	flagLogLevel      = "log_level"
	flagLogFormat     = "log_format"
	flagMetricsAddr   = "metrics_addr"
	flagShutdownGrace = "shutdown_grace"
)

// RelayCmd returns the command that runs the relay.
func RelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the JSON-RPC allow-list relay",
		Long: `Run the JSON-RPC method allow-list relay.

Every inbound HTTP request whose body is a single JSON object with an allowed
"method" member is forwarded to the target unchanged, and the target's response
is relayed back. Anything else is answered with 400 without contacting the
target.

Flags override values from the config file.

Example:
  httprpcrelay relay --bind_address 0.0.0.0 --bind_port 8080 \
    --target_address 127.0.0.1 --target_port 8545 \
    --filter_options eth_blockNumber,eth_call
`,
		RunE: runRelay,
	}

	cmd.Flags().String(flagConfig, "", "Path to relay config YAML file")
	cmd.Flags().String(flagBindAddress, "", "Local address to listen on")
	cmd.Flags().Uint16(flagBindPort, 0, "Local port to listen on")
	cmd.Flags().String(flagTargetAddress, "", "Upstream host name or IP")
	cmd.Flags().Uint16(flagTargetPort, 0, "Upstream port")
	cmd.Flags().Int(flagThreads, 0, "Inbound worker count (0 = number of CPUs)")
	cmd.Flags().String(flagFilterKind, "", "Request filter kind (jsonrpc)")
	cmd.Flags().String(flagFilterOptions, "", "Comma-separated allowed JSON-RPC methods")
	cmd.Flags().String(flagFilterFile, "", "Allow-list file, reloaded when it changes")
	cmd.Flags().String(flagLogLevel, "", "Log level: debug, info, warn, error")
	cmd.Flags().String(flagLogFormat, "", "Log format: json, text")
	cmd.Flags().String(flagMetricsAddr, "", "Metrics, health and readiness listen address")
	cmd.Flags().Duration(flagShutdownGrace, 0, "How long shutdown waits for requests in flight")

	return cmd
}

// loadRelayConfig builds the relay config from the optional file plus any
// flags that were set explicitly.
func loadRelayConfig(flags *pflag.FlagSet) (*relayer.Config, error) {
	config := relayer.DefaultConfig()
	cfg := &config

	if path, _ := flags.GetString(flagConfig); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if cfg, err = relayer.ParseConfig(data); err != nil {
			return nil, err
		}
	}

	if flags.Changed(flagBindAddress) {
		cfg.BindAddress, _ = flags.GetString(flagBindAddress)
	}
	if flags.Changed(flagBindPort) {
		cfg.BindPort, _ = flags.GetUint16(flagBindPort)
	}
	if flags.Changed(flagTargetAddress) {
		cfg.TargetAddress, _ = flags.GetString(flagTargetAddress)
	}
	if flags.Changed(flagTargetPort) {
		cfg.TargetPort, _ = flags.GetUint16(flagTargetPort)
	}
	if flags.Changed(flagThreads) {
		cfg.Threads, _ = flags.GetInt(flagThreads)
	}
	if flags.Changed(flagFilterKind) {
		cfg.Filter.Kind, _ = flags.GetString(flagFilterKind)
	}
	if flags.Changed(flagFilterOptions) {
		cfg.Filter.Options, _ = flags.GetString(flagFilterOptions)
	}
	if flags.Changed(flagFilterFile) {
		cfg.Filter.File, _ = flags.GetString(flagFilterFile)
	}
	if flags.Changed(flagLogLevel) {
		cfg.Logging.Level, _ = flags.GetString(flagLogLevel)
	}
	if flags.Changed(flagLogFormat) {
		cfg.Logging.Format, _ = flags.GetString(flagLogFormat)
	}
	if flags.Changed(flagMetricsAddr) {
		cfg.Metrics.Addr, _ = flags.GetString(flagMetricsAddr)
		cfg.Metrics.Enabled = cfg.Metrics.Addr != ""
	}

	if flags.Changed(flagShutdownGrace) {
		cfg.Timeouts.ShutdownGrace, _ = flags.GetDuration(flagShutdownGrace)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func runRelay(cmd *cobra.Command, _ []string) error {
	config, err := loadRelayConfig(cmd.Flags())
	if err != nil {
		return err
	}

	logger := logging.NewLoggerFromConfig(config.Logging)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relay, err := relayer.NewRelay(logger, *config)
	if err != nil {
		return fmt.Errorf("failed to create relay: %w", err)
	}
	defer func() { _ = relay.Close() }()

	observability.SetProcessInfo(buildInfo.Version, buildInfo.Commit, buildInfo.GoVersion)

	if config.Metrics.Enabled || config.Pprof.Enabled {
		obsServer := observability.NewServer(logger, observability.ServerConfig{
			MetricsEnabled: config.Metrics.Enabled,
			MetricsAddr:    config.Metrics.Addr,
			PprofEnabled:   config.Pprof.Enabled,
			PprofAddr:      config.Pprof.Addr,
			Registry:       observability.Gatherers(),
		})
		obsServer.SetReadinessCheck(relay.Ready)
		if err := obsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		defer func() { _ = obsServer.Stop() }()
	}

	if err := relay.Start(ctx); err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received, stopping relay")

	return relay.Close()
}
