package agents

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/hulunote/hulunote/internal/agent"
	"github.com/hulunote/hulunote/internal/tools/subagent"
	"github.com/hulunote/hulunote/pkg/models"
)

// modelRouter answers by model name so parent and sub-agent requests can be
// scripted independently.
type modelRouter struct {
	mu       sync.Mutex
	scripts  map[string][]models.Message
	requests map[string][]*agent.ChatRequest
}

func (c *modelRouter) Send(ctx context.Context, req *agent.ChatRequest) (*agent.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.requests == nil {
		c.requests = make(map[string][]*agent.ChatRequest)
	}
	c.requests[req.Model] = append(c.requests[req.Model], req)

	script := c.scripts[req.Model]
	if len(script) == 0 {
		return &agent.ChatResponse{Message: models.Message{Role: models.RoleAssistant, Content: "out of script"}}, nil
	}
	reply := script[0]
	c.scripts[req.Model] = script[1:]
	return &agent.ChatResponse{Message: reply}, nil
}

type emptyProvider struct{}

func (emptyProvider) ListProviders(ctx context.Context) []string { return nil }
func (emptyProvider) ListTools(ctx context.Context, id string) ([]agent.ToolSpec, error) {
	return nil, nil
}
func (emptyProvider) Invoke(ctx context.Context, id, tool string, args map[string]any) (any, error) {
	return nil, nil
}

func TestNew_DefaultStageOrder(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{
			name: "bare",
			opts: Options{},
			want: []string{"compaction", "transcript_repair"},
		},
		{
			name: "full",
			opts: Options{
				Tools:       emptyProvider{},
				SubAgents:   []subagent.AgentSpec{{Name: "researcher"}},
				ResultGuard: agent.ToolResultGuard{MaxChars: 100},
			},
			want: []string{"tool_discovery", "compaction", "delegation", "result_guard", "transcript_repair"},
		},
		{
			name: "custom pipeline",
			opts: Options{Pipeline: agent.Pipeline{&agent.StageFuncs{StageName: "mine"}}},
			want: []string{"mine"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := New(tt.opts).Stages(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Stages() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeepAgent_SimpleAnswer(t *testing.T) {
	client := &modelRouter{scripts: map[string][]models.Message{
		"m": {{Role: models.RoleAssistant, Content: "4"}},
	}}
	a := New(Options{Client: client, Model: "m"})

	result, err := a.Run(context.Background(), []models.Message{models.NewUserMessage("2+2?")}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.Success || result.Iterations != 1 || result.Response.Message.Content != "4" {
		t.Errorf("result = %+v", result)
	}
	if len(result.ToolCalls) != 0 || len(result.ToolResults) != 0 {
		t.Error("no tool activity expected")
	}
	if a.Delegations() != nil {
		t.Error("agent without sub-agents cannot delegate")
	}
}

func TestDeepAgent_DelegationEndToEnd(t *testing.T) {
	args, _ := json.Marshal(map[string]string{"agent_name": "researcher", "task_description": "find the answer"})
	client := &modelRouter{scripts: map[string][]models.Message{
		"parent": {
			{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "d1", Name: subagent.ToolName, Arguments: string(args)}}},
			{Role: models.RoleAssistant, Content: "The researcher says 42."},
		},
		"child": {
			{Role: models.RoleAssistant, Content: "42"},
		},
	}}

	var (
		mu     sync.Mutex
		events []agent.ProgressEvent
	)
	sink := agent.ProgressFunc(func(ctx context.Context, e agent.ProgressEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	a := New(Options{
		Client:    client,
		Model:     "parent",
		SubAgents: []subagent.AgentSpec{{Name: "researcher", Model: "child", SharedStateKeys: []string{"findings"}}},
		Progress:  sink,
	})

	state := agent.NewState(map[string]any{"findings": "none", "private": true})
	result, err := a.Run(context.Background(), []models.Message{models.NewUserMessage("ask the researcher")}, state)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Response.Message.Content != "The researcher says 42." || result.Iterations != 2 {
		t.Errorf("result = %+v", result)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(result.ToolResults[0].Content), &payload); err != nil {
		t.Fatalf("delegate result: %v", err)
	}
	if payload["agent"] != "researcher" || payload["result"] != "42" || payload["iterations"] != float64(1) {
		t.Errorf("delegate payload = %v", payload)
	}

	childReq := client.requests["child"][0]
	if childReq.Messages[0].Role != models.RoleSystem || childReq.Messages[0].Content != `You are the "researcher" agent.` {
		t.Errorf("sub-agent system prompt = %+v", childReq.Messages[0])
	}
	for _, tool := range childReq.Tools {
		if tool.Name == subagent.ToolName {
			t.Error("sub-agents must not be offered delegation")
		}
	}

	parentTools := client.requests["parent"][0].Tools
	if len(parentTools) != 1 || parentTools[0].Name != subagent.ToolName {
		t.Errorf("parent tools = %+v", parentTools)
	}

	agentsSeen := map[string]bool{}
	mu.Lock()
	for _, e := range events {
		agentsSeen[e.Agent] = true
	}
	mu.Unlock()
	if !agentsSeen[DefaultName] || !agentsSeen["researcher"] {
		t.Errorf("progress agents = %v", agentsSeen)
	}

	if h := a.Delegations(); len(h) != 1 || h[0].Status != subagent.StatusCompleted {
		t.Errorf("Delegations() = %+v", h)
	}
}

func TestSubRunnerFactory(t *testing.T) {
	parent := Options{
		Name:      "main",
		Model:     "parent",
		SubAgents: []subagent.AgentSpec{{Name: "a"}},
		Pipeline:  agent.Pipeline{&agent.StageFuncs{StageName: "custom"}},
	}
	runner, err := subRunnerFactory(parent)(subagent.AgentSpec{Name: "a"}.Resolved(parent.Model))
	if err != nil {
		t.Fatalf("factory error = %v", err)
	}
	sub := runner.(*DeepAgent)
	cfg := sub.Runner().Config()
	if cfg.Name != "a" || cfg.Model != "parent" || cfg.MaxIterations != subagent.DefaultMaxIterations {
		t.Errorf("sub config = %+v", cfg)
	}
	if !reflect.DeepEqual(sub.Stages(), []string{"compaction", "transcript_repair"}) {
		t.Errorf("sub stages = %v", sub.Stages())
	}
}

func TestSelect(t *testing.T) {
	opts := Options{
		Name:      "lead",
		Model:     "parent",
		SubAgents: []subagent.AgentSpec{{Name: "writer", Model: "child", MaxIterations: 4}},
	}

	tests := []struct {
		name      string
		agent     string
		wantName  string
		wantModel string
		wantErr   error
	}{
		{name: "empty selects top", agent: "", wantName: "lead", wantModel: "parent"},
		{name: "own name", agent: "lead", wantName: "lead", wantModel: "parent"},
		{name: "sub-agent", agent: "writer", wantName: "writer", wantModel: "child"},
		{name: "unknown", agent: "ghost", wantErr: ErrUnknownAgent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Select(opts, tt.agent)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Select() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			cfg := a.Runner().Config()
			if cfg.Name != tt.wantName || cfg.Model != tt.wantModel {
				t.Errorf("config = %+v", cfg)
			}
		})
	}

	sub, _ := Select(opts, "writer")
	if sub.Delegations() != nil || sub.Runner().Config().MaxIterations != 4 {
		t.Error("selected sub-agent must not delegate and keeps its own cap")
	}
}
