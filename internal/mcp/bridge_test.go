package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/hulunote/hulunote/internal/agent"
	"github.com/hulunote/hulunote/pkg/models"
)

type staticProvider struct {
	ids   []string
	tools map[string][]agent.ToolSpec
	errs  map[string]error
}

func (p *staticProvider) ListProviders(ctx context.Context) []string { return p.ids }

func (p *staticProvider) ListTools(ctx context.Context, id string) ([]agent.ToolSpec, error) {
	if err := p.errs[id]; err != nil {
		return nil, err
	}
	return p.tools[id], nil
}

func (p *staticProvider) Invoke(ctx context.Context, id, tool string, args map[string]any) (any, error) {
	return nil, errors.New("not used")
}

func TestDiscoveryStage_Tools(t *testing.T) {
	provider := &staticProvider{
		ids: []string{"fs", "down", "web"},
		tools: map[string][]agent.ToolSpec{
			"fs": {
				{Name: "read", Description: "Read a file", Parameters: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}}}`)},
				{Name: "list"},
			},
			"web": {{Name: "fetch__raw", Description: "Fetch"}},
		},
		errs: map[string]error{"down": errors.New("connection reset")},
	}

	tools := NewDiscoveryStage(provider, nil).Tools(context.Background(), agent.NewState(nil))

	want := []string{"fs__read", "fs__list", "web__fetch__raw"}
	if len(tools) != len(want) {
		t.Fatalf("Tools() = %d descriptors, want %d", len(tools), len(want))
	}
	for i, name := range want {
		if tools[i].Name != name {
			t.Errorf("tools[%d] = %q, want %q", i, tools[i].Name, name)
		}
		if tools[i].IsLocal() {
			t.Errorf("%s must be provider-routed", name)
		}
	}
	if tools[1].Description != "" || string(tools[1].Parameters) != string(agent.EmptyObjectSchema) {
		t.Errorf("defaults not applied: %+v", tools[1])
	}

	provider2, tool, ok := agent.SplitToolName(tools[2].Name)
	if !ok || provider2 != "web" || tool != "fetch__raw" {
		t.Errorf("SplitToolName(%q) = %q, %q", tools[2].Name, provider2, tool)
	}
}

func TestDiscoveryStage_NilProvider(t *testing.T) {
	if tools := NewDiscoveryStage(nil, nil).Tools(context.Background(), nil); tools != nil {
		t.Errorf("Tools() = %v, want nil", tools)
	}
}

type replayClient struct {
	replies  []models.Message
	requests []*agent.ChatRequest
}

func (c *replayClient) Send(ctx context.Context, req *agent.ChatRequest) (*agent.ChatResponse, error) {
	c.requests = append(c.requests, req)
	reply := c.replies[0]
	c.replies = c.replies[1:]
	return &agent.ChatResponse{Message: reply}, nil
}

func TestDiscoveryStage_RunnerRoundTrip(t *testing.T) {
	mgr := connectedManager(t)

	client := &replayClient{replies: []models.Message{
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "c1", Name: "notes__search", Arguments: `{"query":"milk"}`},
		}},
		{Role: models.RoleAssistant, Content: "You need milk."},
	}}

	runner := agent.NewRunner(agent.RunnerConfig{
		Client:   client,
		Pipeline: agent.Pipeline{NewDiscoveryStage(mgr, nil)},
		Tools:    mgr,
	})

	result, err := runner.Run(context.Background(), []models.Message{models.NewUserMessage("what do I need?")}, agent.NewState(nil))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Response.Message.Content != "You need milk." || result.Iterations != 2 {
		t.Errorf("result = %+v", result)
	}

	offered := client.requests[0].Tools
	if len(offered) != 2 || offered[0].Name != "notes__search" {
		t.Errorf("offered tools = %+v", offered)
	}

	if len(result.ToolResults) != 1 {
		t.Fatalf("tool results = %+v", result.ToolResults)
	}
	content := result.ToolResults[0].Content
	if !strings.Contains(content, "found: milk") || result.ToolResults[0].ToolCallID != "c1" {
		t.Errorf("tool result = %+v", result.ToolResults[0])
	}
}
