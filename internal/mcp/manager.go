package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hulunote/hulunote/internal/agent"
)

// ErrNotConnected is returned when a request names a server with no live
// connection.
var ErrNotConnected = errors.New("mcp server not connected")

// Manager manages multiple MCP server connections keyed by server ID. It
// implements agent.ToolProvider: connected servers are the providers and
// their tools are published as-is.
type Manager struct {
	servers []*ServerConfig
	logger  *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	order   []string
}

var _ agent.ToolProvider = (*Manager)(nil)

// NewManager creates a manager for the configured servers. Nothing is
// connected until Connect or ConnectAll is called.
func NewManager(servers []*ServerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		servers: servers,
		logger:  logger.With("component", "mcp"),
		clients: make(map[string]*Client),
	}
}

// Servers returns the configured servers.
func (m *Manager) Servers() []*ServerConfig {
	return m.servers
}

// ConnectAll connects every enabled configured server. A server that fails
// to connect is logged and skipped; the joined failures are returned.
func (m *Manager) ConnectAll(ctx context.Context) error {
	var errs []error
	for _, cfg := range m.servers {
		if cfg.Disabled {
			continue
		}
		if err := m.Connect(ctx, cfg.ID); err != nil {
			m.logger.Error("failed to connect to MCP server", "server", cfg.ID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Connect connects a configured server by ID. An existing connection under
// the same ID is closed and replaced.
func (m *Manager) Connect(ctx context.Context, serverID string) error {
	var cfg *ServerConfig
	for _, s := range m.servers {
		if s.ID == serverID {
			cfg = s
			break
		}
	}
	if cfg == nil {
		return fmt.Errorf("server %q not found in config", serverID)
	}

	client, err := Dial(ctx, cfg, m.logger)
	if err != nil {
		return err
	}
	m.add(serverID, client)
	return nil
}

// ConnectInProcess attaches an MCP server running in this process under id.
func (m *Manager) ConnectInProcess(ctx context.Context, id string, srv *server.MCPServer) error {
	client, err := DialInProcess(ctx, id, srv, m.logger)
	if err != nil {
		return err
	}
	m.add(id, client)
	return nil
}

func (m *Manager) add(id string, client *Client) {
	m.mu.Lock()
	previous, replaced := m.clients[id]
	m.clients[id] = client
	if !replaced {
		m.order = append(m.order, id)
	}
	m.mu.Unlock()

	if replaced {
		if err := previous.Close(); err != nil {
			m.logger.Warn("failed to close replaced MCP client", "server", id, "error", err)
		}
	}
}

// Disconnect closes the connection to one server. Unknown IDs are ignored.
func (m *Manager) Disconnect(serverID string) error {
	m.mu.Lock()
	client, exists := m.clients[serverID]
	if exists {
		delete(m.clients, serverID)
		m.order = slices.DeleteFunc(m.order, func(id string) bool { return id == serverID })
	}
	m.mu.Unlock()

	if !exists {
		return nil
	}
	if err := client.Close(); err != nil {
		return fmt.Errorf("close %s: %w", serverID, err)
	}
	m.logger.Info("disconnected from MCP server", "server", serverID)
	return nil
}

// DisconnectAll closes every connection.
func (m *Manager) DisconnectAll() error {
	m.mu.RLock()
	ids := slices.Clone(m.order)
	m.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if err := m.Disconnect(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsConnected reports whether serverID has a live connection.
func (m *Manager) IsConnected(serverID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.clients[serverID]
	return ok
}

// Client returns the connection for serverID.
func (m *Manager) Client(serverID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[serverID]
	return c, ok
}

func (m *Manager) client(serverID string) (*Client, error) {
	c, ok := m.Client(serverID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, serverID)
	}
	return c, nil
}

// ListProviders returns the connected server IDs in connection order.
func (m *Manager) ListProviders(ctx context.Context) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.order)
}

// ListTools returns the tools one server publishes. Tools without an input
// schema get an empty-object schema.
func (m *Manager) ListTools(ctx context.Context, serverID string) ([]agent.ToolSpec, error) {
	c, err := m.client(serverID)
	if err != nil {
		return nil, err
	}
	tools, err := c.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools on %s: %w", serverID, err)
	}

	specs := make([]agent.ToolSpec, 0, len(tools))
	for _, tool := range tools {
		specs = append(specs, agent.ToolSpec{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  inputSchema(tool),
		})
	}
	return specs, nil
}

func inputSchema(tool mcp.Tool) json.RawMessage {
	if len(tool.RawInputSchema) > 0 {
		return tool.RawInputSchema
	}
	if tool.InputSchema.Type == "" {
		return agent.EmptyObjectSchema
	}
	data, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return agent.EmptyObjectSchema
	}
	return data
}

// Invoke calls a tool and returns the server's CallToolResult.
func (m *Manager) Invoke(ctx context.Context, serverID, toolName string, args map[string]any) (any, error) {
	c, err := m.client(serverID)
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	result, err := c.CallTool(ctx, toolName, args)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", toolName, serverID, err)
	}
	return result, nil
}

// ListResources returns the resources one server publishes.
func (m *Manager) ListResources(ctx context.Context, serverID string) ([]mcp.Resource, error) {
	c, err := m.client(serverID)
	if err != nil {
		return nil, err
	}
	return c.ListResources(ctx)
}

// ReadResource reads a resource from one server.
func (m *Manager) ReadResource(ctx context.Context, serverID, uri string) (*mcp.ReadResourceResult, error) {
	c, err := m.client(serverID)
	if err != nil {
		return nil, err
	}
	return c.ReadResource(ctx, uri)
}

// ServerStatus is the connection status of one configured server.
type ServerStatus struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Transport string `json:"transport"`
	Connected bool   `json:"connected"`
	Server    string `json:"server,omitempty"`
	Version   string `json:"version,omitempty"`
}

// Status returns the status of every configured server.
func (m *Manager) Status() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ServerStatus, 0, len(m.servers))
	for _, cfg := range m.servers {
		st := ServerStatus{ID: cfg.ID, Name: cfg.Name, Transport: string(cfg.TransportKind())}
		if c, ok := m.clients[cfg.ID]; ok {
			st.Connected = true
			st.Server = c.serverInfo.Name
			st.Version = c.serverInfo.Version
		}
		out = append(out, st)
	}
	return out
}
