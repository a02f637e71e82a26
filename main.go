package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/TheQuantumPhysicist/HttpRpcRelay/cmd"
)

func main() {
	cmd.SetBuildInfo(cmd.BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: GoVersion,
	})

	rootCmd := &cobra.Command{
		Use:   "httprpcrelay",
		Short: "JSON-RPC method allow-list relay",
		Long: `HTTP reverse proxy that forwards only JSON-RPC requests whose method is on an
allow-list.

Each request body must be exactly one JSON object with a string "method"
member naming an allowed method. Allowed requests are forwarded to the target
as-is and the target's response is relayed back unchanged. Everything else is
rejected with 400 before any upstream connection is made.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(cmd.RelayCmd())
	rootCmd.AddCommand(cmd.SendCmd())
	rootCmd.AddCommand(cmd.UpstreamCmd())
	rootCmd.AddCommand(cmd.VersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
