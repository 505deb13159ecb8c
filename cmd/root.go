// Package cmd wires the remote-agent command tree.
package cmd

import (
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/kys42/remote-agent/cli"
	"github.com/kys42/remote-agent/config"
	"github.com/kys42/remote-agent/pkg/client"
	"github.com/kys42/remote-agent/version"
)

// NewRootCmd builds the remote-agent root command.
func NewRootCmd() *cobra.Command {
	cmd := cli.NewStandardCommand("remote-agent", "Session manager daemon for CLI coding agents")
	cmd.Long = `remote-agent runs long-lived CLI coding agent processes (claude, gemini,
or any custom executable) as managed sessions: create them remotely, feed
them input, stream their output, and tear them down within configured
limits.`
	cmd.Version = version.Version
	cli.SetVersionTemplate(cmd, cli.VersionInfo{
		Version:   version.Version,
		Commit:    version.Commit,
		BuildDate: version.BuildDate,
		BuildArch: runtime.GOARCH,
	})
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewStopCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewAgentsCmd())
	cmd.AddCommand(NewSessionsCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command and renders failures for the user.
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		verbose, _ := root.PersistentFlags().GetBool("verbose")
		cli.NewErrorHandler(verbose).Handle(err)
		os.Exit(1)
	}
}

// loadConfig resolves configuration honoring the --config flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	opts := cli.GetOptions(cmd)
	return config.Load(opts.ConfigFile)
}

// newClient builds a daemon client for the configured transport.
func newClient(cfg *config.Config) *client.Client {
	if cfg.Server.Socket != "" {
		return client.NewSocketClient(cfg.Server.Socket)
	}
	return client.NewTCPClient(cfg.Server.Listen)
}
