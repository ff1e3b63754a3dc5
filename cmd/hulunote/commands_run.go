package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Run Command
// =============================================================================

// runOptions holds the flags of the run command.
type runOptions struct {
	model         string
	agentName     string
	maxIterations int
	statePath     string
	stateOutPath  string
	jsonOutput    bool
	progress      bool
}

// buildRunCmd creates the "run" command that runs the agent once.
func buildRunCmd(flags *globalFlags) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [prompt...]",
		Short: "Run the agent on a prompt",
		Long: `Run the agent loop once and print its final reply.

The prompt is the joined arguments, or stdin when no arguments are given.
MCP servers from the config are connected for the duration of the run.`,
		Example: `  # Ask a question
  hulunote run "what changed in the roadmap notes?"

  # Pipe the prompt and watch progress
  cat task.md | hulunote run --progress

  # Resume with saved state and keep the new state
  hulunote run --state state.json --state-out state.json "continue"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd, flags, opts, args)
		},
	}
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "Override llm.model")
	cmd.Flags().StringVarP(&opts.agentName, "agent", "a", "", "Run a configured sub-agent instead of the main agent")
	cmd.Flags().IntVar(&opts.maxIterations, "max-iterations", 0, "Override agent.max_iterations")
	cmd.Flags().StringVar(&opts.statePath, "state", "", "JSON file with the initial state")
	cmd.Flags().StringVar(&opts.stateOutPath, "state-out", "", "Write the final state to this JSON file")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print the full run result as JSON")
	cmd.Flags().BoolVar(&opts.progress, "progress", false, "Print progress events to stderr")
	return cmd
}
