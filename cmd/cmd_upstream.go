package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TheQuantumPhysicist/HttpRpcRelay/cmd/upstream"
	"github.com/TheQuantumPhysicist/HttpRpcRelay/logging"
)

const (
	flagAddr      = "addr"
	flagErrorRate = "error-rate"
	flagErrorCode = "error-code"
	flagDelay     = "delay"
)

// UpstreamCmd returns the command that runs a demo JSON-RPC backend.
func UpstreamCmd() *cobra.Command {
	defaults := upstream.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "upstream",
		Short: "Run a demo JSON-RPC backend (testing tool)",
		Long: `Run a demo JSON-RPC backend that echoes the method and params of every call.

Point a relay's --target_address/--target_port at it to try the relay locally.

Example:
  httprpcrelay upstream --addr 127.0.0.1:8545 --delay 20ms --error-rate 0.05
`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config := upstream.DefaultConfig()
			config.Addr, _ = cmd.Flags().GetString(flagAddr)
			config.ErrorRate, _ = cmd.Flags().GetFloat64(flagErrorRate)
			config.ErrorCode, _ = cmd.Flags().GetInt(flagErrorCode)
			config.Delay, _ = cmd.Flags().GetDuration(flagDelay)

			logConfig := logging.DefaultConfig()
			logConfig.Format = "text"
			logger := logging.NewLoggerFromConfig(logConfig)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server := upstream.NewServer(logger, config)
			if err := server.Start(ctx); err != nil {
				return fmt.Errorf("failed to start demo upstream: %w", err)
			}

			<-ctx.Done()
			return server.Stop()
		},
	}

	cmd.Flags().String(flagAddr, defaults.Addr, "Listen address")
	cmd.Flags().Float64(flagErrorRate, 0, "Fraction of requests answered with --error-code")
	cmd.Flags().Int(flagErrorCode, defaults.ErrorCode, "HTTP status for injected errors")
	cmd.Flags().Duration(flagDelay, 0, "Delay before answering each request")

	return cmd
}
