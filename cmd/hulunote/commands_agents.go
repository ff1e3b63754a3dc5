package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Agent, Tool and Model Commands
// =============================================================================

// buildAgentsCmd creates the "agents" command group.
func buildAgentsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect configured agents",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the main agent and its sub-agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentsList(cmd, flags)
		},
	})
	return cmd
}

// buildToolsCmd creates the "tools" command group.
func buildToolsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect tools discovered from MCP servers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Connect configured MCP servers and list their tools",
		Long: `Connect every configured MCP server and list the tools the agent would
see, under their namespaced names (server__tool).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsList(cmd, flags)
		},
	})
	return cmd
}

// buildModelsCmd creates the "models" command group.
func buildModelsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect models offered by the configured provider",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List models advertised by the provider endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModelsList(cmd, flags)
		},
	})
	return cmd
}
