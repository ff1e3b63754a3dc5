package mcp

import (
	"context"
	"log/slog"

	"github.com/hulunote/hulunote/internal/agent"
)

// DiscoveryStage republishes every tool of every reachable provider under
// the namespaced name "<providerID>__<toolName>". The descriptors carry no
// local executor, so the runner routes their calls back to the provider.
type DiscoveryStage struct {
	provider agent.ToolProvider
	logger   *slog.Logger
}

// NewDiscoveryStage creates the tool-discovery stage. A nil provider
// contributes no tools.
func NewDiscoveryStage(provider agent.ToolProvider, logger *slog.Logger) *DiscoveryStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscoveryStage{
		provider: provider,
		logger:   logger.With("component", "tool_discovery"),
	}
}

// Name implements agent.Middleware.
func (s *DiscoveryStage) Name() string {
	return "tool_discovery"
}

// Tools implements agent.ToolSource. A provider whose listing fails is
// skipped for this iteration.
func (s *DiscoveryStage) Tools(ctx context.Context, state *agent.State) []agent.ToolDescriptor {
	if s.provider == nil {
		return nil
	}

	var tools []agent.ToolDescriptor
	for _, providerID := range s.provider.ListProviders(ctx) {
		specs, err := s.provider.ListTools(ctx, providerID)
		if err != nil {
			s.logger.Warn("failed to list provider tools", "provider", providerID, "error", err)
			continue
		}
		for _, spec := range specs {
			params := spec.Parameters
			if len(params) == 0 {
				params = agent.EmptyObjectSchema
			}
			tools = append(tools, agent.ToolDescriptor{
				ToolSpec: agent.ToolSpec{
					Name:        agent.JoinToolName(providerID, spec.Name),
					Description: spec.Description,
					Parameters:  params,
				},
			})
		}
	}
	return tools
}
