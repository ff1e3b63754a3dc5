package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hulunote/hulunote/internal/agent"
)

// RunAgentTool is the name of the tool the agent server publishes.
const RunAgentTool = "run_agent"

// AgentRunFunc runs one agent on a prompt. An empty agentName selects the
// main agent.
type AgentRunFunc func(ctx context.Context, agentName, prompt string) (*agent.RunResult, error)

// AgentServerConfig configures the MCP surface that exposes the agent.
type AgentServerConfig struct {
	Name    string
	Version string

	// Agents lists the sub-agent names accepted by the "agent" argument.
	Agents []string

	Run    AgentRunFunc
	Logger *slog.Logger
}

// AgentServer exposes the orchestration core as an MCP tool.
type AgentServer struct {
	srv    *server.MCPServer
	run    AgentRunFunc
	logger *slog.Logger
}

// NewAgentServer creates the server and registers the run_agent tool.
func NewAgentServer(cfg AgentServerConfig) *AgentServer {
	if cfg.Name == "" {
		cfg.Name = "hulunote"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &AgentServer{
		srv: server.NewMCPServer(
			cfg.Name,
			cfg.Version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
			server.WithInstructions("Call run_agent with a prompt to run the agent loop and receive its final reply."),
		),
		run:    cfg.Run,
		logger: logger.With("component", "mcp_server"),
	}
	s.SetAgents(cfg.Agents)
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *AgentServer) MCPServer() *server.MCPServer {
	return s.srv
}

// SetAgents re-registers run_agent with a new set of sub-agent names.
func (s *AgentServer) SetAgents(names []string) {
	s.srv.AddTool(runAgentTool(names), s.handleRunAgent)
}

func runAgentTool(agents []string) mcp.Tool {
	agentOpts := []mcp.PropertyOption{
		mcp.Description("Optional sub-agent to run instead of the main agent."),
	}
	if len(agents) > 0 {
		agentOpts[0] = mcp.Description("Optional sub-agent to run instead of the main agent. One of: " + strings.Join(agents, ", "))
		agentOpts = append(agentOpts, mcp.Enum(agents...))
	}
	return mcp.NewTool(RunAgentTool,
		mcp.WithDescription("Run the agent on a prompt. The agent may call its tools and delegate to sub-agents before replying."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("The user message to answer.")),
		mcp.WithString("agent", agentOpts...),
	)
}

type runAgentOutput struct {
	RunID                string `json:"run_id"`
	Content              string `json:"content"`
	Iterations           int    `json:"iterations"`
	MaxIterationsReached bool   `json:"max_iterations_reached"`
}

func (s *AgentServer) handleRunAgent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, err := req.RequireString("prompt")
	if err != nil || strings.TrimSpace(prompt) == "" {
		return mcp.NewToolResultError("'prompt' is required"), nil
	}
	name := req.GetString("agent", "")

	if s.run == nil {
		return mcp.NewToolResultError("agent is not configured"), nil
	}

	result, err := s.run(ctx, name, prompt)
	if err != nil {
		s.logger.Error("run_agent failed", "agent", name, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("agent run failed: %v", err)), nil
	}

	out := runAgentOutput{
		RunID:                result.RunID,
		Iterations:           result.Iterations,
		MaxIterationsReached: result.MaxIterationsReached,
	}
	if result.Response != nil {
		out.Content = result.Response.Message.Content
	}
	return mcp.NewToolResultStructured(out, out.Content), nil
}

// Serve answers MCP requests over the given streams until ctx is done or
// the input closes.
func (s *AgentServer) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.srv)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	return stdio.Listen(ctx, in, out)
}
