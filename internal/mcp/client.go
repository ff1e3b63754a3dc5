package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Client is a connection to a single MCP server.
type Client struct {
	config *ServerConfig
	conn   *mcpclient.Client
	logger *slog.Logger

	serverInfo mcp.Implementation
}

// Dial opens the transport described by cfg and performs the MCP
// initialization handshake.
func Dial(ctx context.Context, cfg *ServerConfig, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		conn *mcpclient.Client
		err  error
	)
	switch cfg.TransportKind() {
	case TransportStdio:
		var opts []transport.StdioOption
		if cfg.WorkDir != "" {
			opts = append(opts, transport.WithCommandFunc(workDirCommand(cfg.WorkDir)))
		}
		conn, err = mcpclient.NewStdioMCPClientWithOptions(cfg.Command, cfg.environ(), cfg.Args, opts...)
	case TransportHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, transport.WithHTTPTimeout(cfg.Timeout))
		}
		conn, err = mcpclient.NewStreamableHttpClient(cfg.URL, opts...)
	default:
		err = fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	if err != nil {
		return nil, fmt.Errorf("open transport for %s: %w", cfg.ID, err)
	}
	return start(ctx, cfg, conn, logger)
}

// DialInProcess connects to an MCP server running in the same process.
func DialInProcess(ctx context.Context, id string, srv *server.MCPServer, logger *slog.Logger) (*Client, error) {
	conn, err := mcpclient.NewInProcessClient(srv)
	if err != nil {
		return nil, err
	}
	return start(ctx, &ServerConfig{ID: id}, conn, logger)
}

func start(ctx context.Context, cfg *ServerConfig, conn *mcpclient.Client, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		config: cfg,
		conn:   conn,
		logger: logger.With("component", "mcp", "server", cfg.ID),
	}

	if err := conn.Start(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("start %s: %w", cfg.ID, err)
	}

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: ClientName, Version: ClientVersion}

	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()
	result, err := conn.Initialize(reqCtx, req)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("initialize %s: %w", cfg.ID, err)
	}
	c.serverInfo = result.ServerInfo

	c.logger.Info("connected to MCP server",
		"name", result.ServerInfo.Name,
		"version", result.ServerInfo.Version,
		"protocol", result.ProtocolVersion)
	return c, nil
}

func workDirCommand(dir string) transport.CommandFunc {
	return func(ctx context.Context, command string, env []string, args []string) (*exec.Cmd, error) {
		cmd := exec.CommandContext(ctx, command, args...)
		cmd.Env = append(os.Environ(), env...)
		cmd.Dir = dir
		return cmd, nil
	}
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.Timeout > 0 {
		return context.WithTimeout(ctx, c.config.Timeout)
	}
	return context.WithCancel(ctx)
}

// Config returns the server configuration.
func (c *Client) Config() *ServerConfig {
	return c.config
}

// ServerInfo returns the name and version the server reported.
func (c *Client) ServerInfo() mcp.Implementation {
	return c.serverInfo
}

// Close shuts down the connection and, for stdio servers, the subprocess.
func (c *Client) Close() error {
	return c.conn.Close()
}

// ListTools returns every tool the server publishes.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	result, err := c.conn.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool invokes a tool by its server-local name.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments
	return c.conn.CallTool(ctx, req)
}

// ListResources returns the resources the server publishes.
func (c *Client) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	result, err := c.conn.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		return nil, err
	}
	return result.Resources, nil
}

// ReadResource reads a resource by URI.
func (c *Client) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	return c.conn.ReadResource(ctx, req)
}
