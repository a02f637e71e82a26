package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/TheQuantumPhysicist/HttpRpcRelay/transport"
)

// BuildInfo describes the running binary. main sets it from ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
	GoVersion string
}

var buildInfo = BuildInfo{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
	GoVersion: runtime.Version(),
}

// SetBuildInfo records the build information and stamps the version into
// the Server and User-Agent fields the relay synthesizes.
func SetBuildInfo(info BuildInfo) {
	if info.GoVersion == "" {
		info.GoVersion = runtime.Version()
	}
	buildInfo = info
	transport.ServerName = "httprpcrelay/" + info.Version
}

// VersionInfo returns a formatted string with all version information.
func VersionInfo() string {
	return fmt.Sprintf(
		"Version:    %s\nCommit:     %s\nBuild Date: %s\nGo Version: %s",
		buildInfo.Version,
		buildInfo.Commit,
		buildInfo.BuildDate,
		buildInfo.GoVersion,
	)
}

// VersionCmd returns the version command.
func VersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Print detailed version information including git commit and build date.",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), VersionInfo())
		},
	}
}
