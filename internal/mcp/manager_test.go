package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func newNotesServer() *server.MCPServer {
	srv := server.NewMCPServer("notes", "1.2.3",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, false),
	)

	srv.AddTool(mcp.NewTool("search",
		mcp.WithDescription("Search notes"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search text")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("found: " + req.GetString("query", "")), nil
	})

	srv.AddTool(mcp.NewTool("broken", mcp.WithDescription("Always fails")),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultError("disk on fire"), nil
		})

	srv.AddResource(mcp.NewResource("note://today", "Today", mcp.WithMIMEType("text/plain")),
		func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			return []mcp.ResourceContents{
				mcp.TextResourceContents{URI: "note://today", MIMEType: "text/plain", Text: "buy milk"},
			}, nil
		})
	return srv
}

func connectedManager(t *testing.T) *Manager {
	t.Helper()
	mgr := NewManager(nil, nil)
	if err := mgr.ConnectInProcess(context.Background(), "notes", newNotesServer()); err != nil {
		t.Fatalf("ConnectInProcess() error = %v", err)
	}
	t.Cleanup(func() { _ = mgr.DisconnectAll() })
	return mgr
}

func resultText(t *testing.T, v any) (string, bool) {
	t.Helper()
	result, ok := v.(*mcp.CallToolResult)
	if !ok {
		t.Fatalf("result type = %T", v)
	}
	var parts []string
	for _, c := range result.Content {
		if text, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, ""), result.IsError
}

func TestManager_ToolProvider(t *testing.T) {
	mgr := connectedManager(t)
	ctx := context.Background()

	if got := mgr.ListProviders(ctx); len(got) != 1 || got[0] != "notes" {
		t.Fatalf("ListProviders() = %v", got)
	}
	if !mgr.IsConnected("notes") {
		t.Error("IsConnected() = false")
	}

	specs, err := mgr.ListTools(ctx, "notes")
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("ListTools() = %+v", specs)
	}
	var search map[string]any
	for _, spec := range specs {
		if spec.Name == "search" {
			if spec.Description != "Search notes" {
				t.Errorf("description = %q", spec.Description)
			}
			if err := json.Unmarshal(spec.Parameters, &search); err != nil {
				t.Fatalf("parameters: %v", err)
			}
		}
	}
	props, _ := search["properties"].(map[string]any)
	if _, ok := props["query"]; !ok || search["type"] != "object" {
		t.Errorf("search schema = %v", search)
	}

	out, err := mgr.Invoke(ctx, "notes", "search", map[string]any{"query": "milk"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if text, isErr := resultText(t, out); text != "found: milk" || isErr {
		t.Errorf("Invoke() = %q (isError %v)", text, isErr)
	}

	out, err = mgr.Invoke(ctx, "notes", "broken", nil)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if text, isErr := resultText(t, out); text != "disk on fire" || !isErr {
		t.Errorf("tool-level failure = %q (isError %v)", text, isErr)
	}
}

func TestManager_Resources(t *testing.T) {
	mgr := connectedManager(t)
	ctx := context.Background()

	resources, err := mgr.ListResources(ctx, "notes")
	if err != nil {
		t.Fatalf("ListResources() error = %v", err)
	}
	if len(resources) != 1 || resources[0].URI != "note://today" {
		t.Fatalf("ListResources() = %+v", resources)
	}

	read, err := mgr.ReadResource(ctx, "notes", "note://today")
	if err != nil {
		t.Fatalf("ReadResource() error = %v", err)
	}
	if len(read.Contents) != 1 {
		t.Fatalf("contents = %+v", read.Contents)
	}
	text, ok := mcp.AsTextResourceContents(read.Contents[0])
	if !ok || text.Text != "buy milk" {
		t.Errorf("content = %+v", read.Contents[0])
	}
}

func TestManager_Disconnect(t *testing.T) {
	mgr := connectedManager(t)
	ctx := context.Background()

	if err := mgr.Disconnect("notes"); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if mgr.IsConnected("notes") || len(mgr.ListProviders(ctx)) != 0 {
		t.Error("server should be gone after Disconnect")
	}
	if err := mgr.Disconnect("notes"); err != nil {
		t.Errorf("second Disconnect() error = %v", err)
	}

	_, err := mgr.Invoke(ctx, "notes", "search", nil)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Invoke() error = %v, want ErrNotConnected", err)
	}
	if _, err := mgr.ListTools(ctx, "notes"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ListTools() error = %v, want ErrNotConnected", err)
	}
}

func TestManager_ReconnectKeepsOrder(t *testing.T) {
	mgr := NewManager(nil, nil)
	ctx := context.Background()
	defer mgr.DisconnectAll()

	for _, id := range []string{"a", "b", "a"} {
		if err := mgr.ConnectInProcess(ctx, id, newNotesServer()); err != nil {
			t.Fatalf("ConnectInProcess(%s) error = %v", id, err)
		}
	}
	got := mgr.ListProviders(ctx)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("ListProviders() = %v", got)
	}
}

func TestManager_ConnectUnknownServer(t *testing.T) {
	mgr := NewManager([]*ServerConfig{{ID: "fs", Command: "node"}}, nil)
	if err := mgr.Connect(context.Background(), "nope"); err == nil {
		t.Error("expected error for unconfigured server")
	}
}

func TestManager_ConnectAllSkipsDisabledAndJoinsErrors(t *testing.T) {
	mgr := NewManager([]*ServerConfig{
		{ID: "off", Command: "node", Disabled: true},
		{ID: "bad", Transport: TransportHTTP},
	}, nil)

	err := mgr.ConnectAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "URL is required") {
		t.Errorf("ConnectAll() error = %v", err)
	}
	if len(mgr.ListProviders(context.Background())) != 0 {
		t.Error("nothing should be connected")
	}

	status := mgr.Status()
	if len(status) != 2 || status[0].Connected || status[1].Transport != "http" {
		t.Errorf("Status() = %+v", status)
	}
}

func TestManager_StatusReportsServerInfo(t *testing.T) {
	mgr := NewManager([]*ServerConfig{{ID: "notes", Command: "unused"}}, nil)
	if err := mgr.ConnectInProcess(context.Background(), "notes", newNotesServer()); err != nil {
		t.Fatalf("ConnectInProcess() error = %v", err)
	}
	defer mgr.DisconnectAll()

	status := mgr.Status()
	if len(status) != 1 || !status[0].Connected || status[0].Server != "notes" || status[0].Version != "1.2.3" {
		t.Errorf("Status() = %+v", status)
	}
}

func TestInputSchemaFallback(t *testing.T) {
	if got := string(inputSchema(mcp.Tool{Name: "bare"})); got != `{"type":"object","properties":{}}` {
		t.Errorf("inputSchema() = %s", got)
	}
	raw := json.RawMessage(`{"type":"object","properties":{"n":{"type":"integer"}}}`)
	if got := inputSchema(mcp.Tool{Name: "raw", RawInputSchema: raw}); string(got) != string(raw) {
		t.Errorf("raw schema should pass through, got %s", got)
	}
}
