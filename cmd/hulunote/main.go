// Package main provides the CLI entry point for hulunote, an LLM agent
// orchestration core with MCP tool providers and delegated sub-agents.
//
// # Basic Usage
//
// Run the agent once:
//
//	hulunote run "summarize today's notes"
//	echo "plan my week" | hulunote run --progress
//
// Expose the agent to other MCP clients over stdio:
//
//	hulunote mcp serve --watch
//
// Inspect the configuration:
//
//	hulunote agents list
//	hulunote tools list
//	hulunote config validate
//
// # Environment Variables
//
//   - HULUNOTE_CONFIG: Path to configuration file (default: hulunote.yaml)
//   - OPENROUTER_API_KEY, OPENAI_API_KEY, ANTHROPIC_API_KEY: used when the
//     config leaves llm.api_key empty
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:   "hulunote",
		Short: "hulunote - LLM agent orchestration with MCP tools and sub-agents",
		Long: `hulunote runs a tool-using LLM agent loop.

Tools come from MCP servers listed in the config; sub-agents listed in the
config can be delegated to through the delegate_task tool.

Supported providers: OpenRouter, OpenAI, Anthropic, Ollama`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to config file (default $HULUNOTE_CONFIG or hulunote.yaml)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override logging.level")

	rootCmd.AddCommand(
		buildRunCmd(flags),
		buildAgentsCmd(flags),
		buildToolsCmd(flags),
		buildModelsCmd(flags),
		buildMcpCmd(flags),
		buildConfigCmd(flags),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hulunote %s\ncommit: %s\nbuilt: %s\n", version, commit, date)
		},
	}
}
