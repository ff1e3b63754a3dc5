package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hulunote/hulunote/internal/config"
)

// =============================================================================
// Config Command Handlers
// =============================================================================

// runConfigSchema handles the config schema command.
func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return nil
}

// runConfigValidate handles the config validate command. Unlike the other
// commands it requires the file to exist.
func runConfigValidate(cmd *cobra.Command, flags *globalFlags) error {
	path := config.ResolvePath(flags.configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	sources, err := config.Sources(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config OK: %s\n", path)
	if len(sources) > 1 {
		fmt.Fprintln(out, "Includes:")
		for _, src := range sources[1:] {
			fmt.Fprintf(out, "  %s\n", src)
		}
	}
	fmt.Fprintf(out, "Provider: %s\n", cfg.LLM.Provider)
	fmt.Fprintf(out, "Model: %s\n", dash(cfg.LLM.Model))
	fmt.Fprintf(out, "Sub-agents: %d\n", len(cfg.Agent.SubAgents))
	fmt.Fprintf(out, "MCP servers: %d\n", len(cfg.MCP.Servers))
	return nil
}
