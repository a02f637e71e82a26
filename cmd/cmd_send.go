package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheQuantumPhysicist/HttpRpcRelay/cmd/send"
	"github.com/TheQuantumPhysicist/HttpRpcRelay/logging"
)

const (
	flagURLHost     = "url-host"
	flagPort        = "port"
	flagTarget      = "target"
	flagMethod      = "method"
	flagPayload     = "payload"
	flagCount       = "count"
	flagConcurrency = "concurrency"
	flagRPS         = "rps"
	flagTimeout     = "timeout"
	flagVerbose     = "verbose"
)

// SendCmd returns the command that sends JSON-RPC requests to a relay or an
// upstream.
func SendCmd() *cobra.Command {
	defaults := send.DefaultOptions()

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send JSON-RPC requests (testing tool)",
		Long: `Send JSON-RPC requests over HTTP/1.1 to a relay or directly to an upstream.

With --count 1 the response is printed. Larger counts run a load test and print
a summary with success rate, throughput and latency percentiles.

Examples:
  # Single request through a local relay
  httprpcrelay send --port 8080 --method eth_blockNumber

  # Load test with 1000 requests, 50 in flight, paced at 200 RPS
  httprpcrelay send --port 8080 -n 1000 --concurrency 50 --rps 200
`,
		RunE: runSend,
	}

	cmd.Flags().String(flagURLHost, defaults.Host, "Host name or IP to send to")
	cmd.Flags().Uint16(flagPort, 0, "Port to send to (required)")
	cmd.Flags().String(flagTarget, defaults.Target, "Request target path")
	cmd.Flags().String(flagMethod, defaults.Method, "JSON-RPC method of the default payload")
	cmd.Flags().String(flagPayload, "", "Custom JSON body (overrides --method)")
	cmd.Flags().IntP(flagCount, "n", defaults.Count, "Number of requests")
	cmd.Flags().Int(flagConcurrency, defaults.Concurrency, "Requests in flight")
	cmd.Flags().Int(flagRPS, 0, "Target requests per second (0 = unlimited)")
	cmd.Flags().Duration(flagTimeout, defaults.Timeout, "Per-request timeout")
	cmd.Flags().BoolP(flagVerbose, "v", false, "Debug logging")

	_ = cmd.MarkFlagRequired(flagPort)

	return cmd
}

func runSend(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()

	opts := send.DefaultOptions()
	opts.Host, _ = flags.GetString(flagURLHost)
	opts.Port, _ = flags.GetUint16(flagPort)
	opts.Target, _ = flags.GetString(flagTarget)
	opts.Method, _ = flags.GetString(flagMethod)
	opts.Payload, _ = flags.GetString(flagPayload)
	opts.Count, _ = flags.GetInt(flagCount)
	opts.Concurrency, _ = flags.GetInt(flagConcurrency)
	opts.RPS, _ = flags.GetInt(flagRPS)
	opts.Timeout, _ = flags.GetDuration(flagTimeout)

	logConfig := logging.DefaultConfig()
	logConfig.Format = "text"
	logConfig.Async = false
	if verbose, _ := flags.GetBool(flagVerbose); verbose {
		logConfig.Level = "debug"
	} else {
		logConfig.Level = "warn"
	}
	logger := logging.NewLoggerWithWriter(logConfig, os.Stderr)

	sender, err := send.NewSender(logger, opts)
	if err != nil {
		return err
	}
	defer sender.Close()

	if opts.Count == 1 {
		res, err := sender.SendOnce(cmd.Context())
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		return send.WriteResponse(cmd.OutOrStdout(), res)
	}

	metrics := sender.LoadTest(cmd.Context())
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), metrics.GetSummary())
	return nil
}
