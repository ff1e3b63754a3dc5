package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/hulunote/hulunote/internal/agent"
	"github.com/hulunote/hulunote/internal/agents"
	"github.com/hulunote/hulunote/pkg/models"
)

// =============================================================================
// Run Command Handlers
// =============================================================================

var (
	// errEmptyPrompt is returned when neither arguments nor stdin carry a prompt.
	errEmptyPrompt = errors.New("prompt is empty")

	// errInteractiveStdin is returned instead of blocking on a terminal.
	errInteractiveStdin = errors.New("no prompt given: pass it as arguments or pipe it on stdin")
)

// runAgent handles the run command.
func runAgent(cmd *cobra.Command, flags *globalFlags, opts *runOptions, args []string) error {
	if len(args) == 0 && isTerminal(cmd.InOrStdin()) {
		return errInteractiveStdin
	}
	prompt, err := readPrompt(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if opts.model != "" {
		cfg.LLM.Model = opts.model
	}
	if opts.maxIterations > 0 {
		cfg.Agent.MaxIterations = opts.maxIterations
	}

	state, err := readState(opts.statePath)
	if err != nil {
		return err
	}

	rt, err := newRuntime(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := cmd.Context()
	rt.connect(ctx)

	agentOpts := rt.options()
	if opts.progress {
		agentOpts.Progress = progressWriter(cmd.ErrOrStderr())
	}
	deep, err := agents.Select(agentOpts, opts.agentName)
	if err != nil {
		return err
	}

	result, err := deep.Run(ctx, []models.Message{models.NewUserMessage(prompt)}, state)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	if opts.stateOutPath != "" {
		if err := writeState(opts.stateOutPath, state); err != nil {
			return err
		}
	}
	return printRunResult(cmd.OutOrStdout(), result, opts.jsonOutput)
}

// readPrompt joins args, falling back to in when there are none.
func readPrompt(in io.Reader, args []string) (string, error) {
	prompt := strings.Join(args, " ")
	if len(args) == 0 && in != nil {
		data, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("read prompt: %w", err)
		}
		prompt = string(data)
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errEmptyPrompt
	}
	return prompt, nil
}

// isTerminal reports whether r is an interactive terminal.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// readState loads the initial state. An empty path gives an empty state.
func readState(path string) (*agent.State, error) {
	state := agent.NewState(nil)
	if path == "" {
		return state, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", path, err)
	}
	return state, nil
}

func writeState(path string, state *agent.State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

func printRunResult(out io.Writer, result *agent.RunResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	if result.Response != nil {
		fmt.Fprintln(out, result.Response.Message.Content)
	}
	return nil
}
