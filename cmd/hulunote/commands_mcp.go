package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// MCP Commands
// =============================================================================

// serveOptions holds the flags of the mcp serve command.
type serveOptions struct {
	watch       bool
	metricsAddr string
}

// buildMcpCmd creates the "mcp" command group.
func buildMcpCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the agent over MCP and inspect MCP servers",
		Long: `Serve the agent to MCP clients, or inspect the MCP servers the agent uses
for tools.

Use "hulunote mcp serve" to expose the run_agent tool over stdio.`,
	}
	cmd.AddCommand(
		buildMcpServeCmd(flags),
		buildMcpServersCmd(flags),
	)
	return cmd
}

func buildMcpServeCmd(flags *globalFlags) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the agent as an MCP server over stdio",
		Long: `Serve the run_agent tool over stdio. Each call runs the main agent, or the
sub-agent named in its "agent" argument, on the given prompt.

Logs go to stderr. With --watch, edits to the config file (and its includes)
are applied without restarting; an invalid edit is logged and ignored.`,
		Example: `  # Register with an MCP client
  hulunote mcp serve --config ~/.config/hulunote/hulunote.yaml

  # Reload on config edits and export Prometheus metrics
  hulunote mcp serve --watch --metrics-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMcpServe(cmd, flags, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Reload the config when it changes")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides observability.metrics)")
	return cmd
}

func buildMcpServersCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "Connect configured MCP servers and report their status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMcpServers(cmd, flags)
		},
	}
}
