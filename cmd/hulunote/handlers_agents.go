package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/hulunote/hulunote/internal/agents"
	"github.com/hulunote/hulunote/internal/config"
	"github.com/hulunote/hulunote/internal/mcp"
	"github.com/hulunote/hulunote/internal/tools/subagent"
)

// =============================================================================
// Agent, Tool and Model Command Handlers
// =============================================================================

// runAgentsList handles the agents list command.
func runAgentsList(cmd *cobra.Command, flags *globalFlags) error {
	cfg, path, err := loadConfig(flags)
	if err != nil {
		return err
	}
	printAgentsList(cmd.OutOrStdout(), cfg, path)
	return nil
}

// printAgentsList prints the main agent followed by its sub-agents with
// their resolved model and iteration cap.
func printAgentsList(out io.Writer, cfg *config.Config, path string) {
	fmt.Fprintln(out, "Configured Agents")
	fmt.Fprintln(out, "=================")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Source: %s\n\n", path)

	mainName := cfg.Agent.Name
	if mainName == "" {
		mainName = agents.DefaultName
	}

	fmt.Fprintln(out, "Name          Role        Model                         Max Iter  Description")
	fmt.Fprintln(out, "------------  ----------  ----------------------------  --------  -----------")
	fmt.Fprintf(out, "%-12s  %-10s  %-28s  %8d  %s\n",
		truncate(mainName, 12), "main", truncate(dash(cfg.LLM.Model), 28), cfg.Agent.MaxIterations, "-")
	for _, spec := range cfg.Agent.SubAgents {
		resolved := spec.Resolved(cfg.LLM.Model)
		fmt.Fprintf(out, "%-12s  %-10s  %-28s  %8d  %s\n",
			truncate(resolved.Name, 12), "sub-agent", truncate(dash(resolved.Model), 28), resolved.MaxIterations, dash(resolved.Description))
	}
	fmt.Fprintln(out)

	if len(cfg.Agent.SubAgents) == 0 {
		fmt.Fprintln(out, "No sub-agents defined; delegation is disabled.")
		return
	}
	fmt.Fprintf(out, "Delegation tool: %s\n", subagent.ToolName)
}

// runToolsList handles the tools list command.
func runToolsList(cmd *cobra.Command, flags *globalFlags) error {
	cfg, _, err := loadConfig(flags)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, cmd.ErrOrStderr())

	out := cmd.OutOrStdout()
	if len(cfg.MCP.Servers) == 0 {
		fmt.Fprintln(out, "No MCP servers configured.")
		return nil
	}

	mgr := mcp.NewManager(cfg.MCP.Servers, logger)
	defer func() {
		if err := mgr.DisconnectAll(); err != nil {
			logger.Warn("failed to disconnect MCP servers", "error", err)
		}
	}()
	if err := mgr.ConnectAll(cmd.Context()); err != nil {
		logger.Warn("some MCP servers failed to connect", "error", err)
	}
	return printToolsList(cmd.Context(), out, mgr)
}

// printToolsList prints server status followed by every discovered tool
// under the name the model sees.
func printToolsList(ctx context.Context, out io.Writer, mgr *mcp.Manager) error {
	fmt.Fprintln(out, "MCP Servers:")
	for _, status := range mgr.Status() {
		state := "disconnected"
		if status.Connected {
			state = "connected"
			if status.Server != "" {
				state = fmt.Sprintf("connected to %s %s", status.Server, status.Version)
			}
		}
		fmt.Fprintf(out, "  %s (%s) - %s\n", status.ID, status.Transport, state)
	}
	fmt.Fprintln(out)

	tools := mcp.NewDiscoveryStage(mgr, nil).Tools(ctx, nil)
	if len(tools) == 0 {
		fmt.Fprintln(out, "No tools available.")
		return nil
	}
	fmt.Fprintln(out, "Tools:")
	for _, tool := range tools {
		fmt.Fprintf(out, "  %s\n", tool.Name)
		if tool.Description != "" {
			fmt.Fprintf(out, "      %s\n", truncate(tool.Description, 100))
		}
	}
	return nil
}

// modelLister is implemented by clients that can enumerate models.
type modelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// errListModelsUnsupported is returned for providers without a model listing.
var errListModelsUnsupported = errors.New("provider does not support listing models")

// runModelsList handles the models list command.
func runModelsList(cmd *cobra.Command, flags *globalFlags) error {
	cfg, _, err := loadConfig(flags)
	if err != nil {
		return err
	}
	client, err := newModelClient(cfg.LLM)
	if err != nil {
		return err
	}
	lister, ok := client.(modelLister)
	if !ok {
		return fmt.Errorf("%s: %w", cfg.LLM.Provider, errListModelsUnsupported)
	}
	ids, err := lister.ListModels(cmd.Context())
	if err != nil {
		return err
	}
	slices.Sort(ids)
	out := cmd.OutOrStdout()
	for _, id := range ids {
		fmt.Fprintln(out, id)
	}
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	if n <= 3 {
		return string([]rune(s)[:n])
	}
	return string([]rune(s)[:n-3]) + "..."
}
