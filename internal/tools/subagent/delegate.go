// Package subagent implements delegation: a synthetic tool that hands a task
// to a named sub-agent, runs it to completion on a forked copy of the
// conversation state, and returns its reply to the parent model.
package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/invopop/jsonschema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hulunote/hulunote/internal/agent"
	"github.com/hulunote/hulunote/pkg/models"
)

// ToolName is the name of the delegation tool.
const ToolName = "delegate_task"

// DefaultMaxIterations is the iteration cap of a sub-run when the sub-agent
// does not set one.
const DefaultMaxIterations = 10

// AgentSpec describes one sub-agent that can be delegated to.
type AgentSpec struct {
	Name            string   `yaml:"name" json:"name"`
	Description     string   `yaml:"description,omitempty" json:"description,omitempty"`
	Model           string   `yaml:"model,omitempty" json:"model,omitempty"`
	SystemPrompt    string   `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	MaxIterations   int      `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty"`
	SharedStateKeys []string `yaml:"shared_state_keys,omitempty" json:"shared_state_keys,omitempty"`
}

// Resolved returns the spec with the parent model, the generated system
// prompt and the default iteration cap filled in.
func (s AgentSpec) Resolved(parentModel string) AgentSpec {
	if s.Model == "" {
		s.Model = parentModel
	}
	if s.SystemPrompt == "" {
		s.SystemPrompt = fmt.Sprintf("You are the %q agent.", s.Name)
	}
	if s.MaxIterations <= 0 {
		s.MaxIterations = DefaultMaxIterations
	}
	return s
}

// SubRunner runs one delegated task.
type SubRunner interface {
	Run(ctx context.Context, transcript []models.Message, state *agent.State) (*agent.RunResult, error)
}

// RunnerFactory builds the sub-runner for a resolved spec. The runner it
// returns must not be able to delegate.
type RunnerFactory func(spec AgentSpec) (SubRunner, error)

// Config configures the delegation stage.
type Config struct {
	// Agents is the sub-agent table. An empty table disables the tool.
	Agents []AgentSpec

	// ParentModel is used by sub-agents that do not name a model.
	ParentModel string

	// Factory builds sub-runners. Required when Agents is non-empty.
	Factory RunnerFactory

	Logger *slog.Logger
	Tracer trace.Tracer
}

// Stage is the delegation pipeline stage.
type Stage struct {
	agents  []AgentSpec
	byName  map[string]AgentSpec
	parent  string
	factory RunnerFactory
	schema  json.RawMessage
	logger  *slog.Logger
	tracer  trace.Tracer

	mu      sync.Mutex
	history []Record
}

// New creates the delegation stage. The first spec registered under a name
// wins.
func New(config Config) *Stage {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := config.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/hulunote/hulunote/internal/tools/subagent")
	}

	s := &Stage{
		byName:  make(map[string]AgentSpec, len(config.Agents)),
		parent:  config.ParentModel,
		factory: config.Factory,
		logger:  logger.With("component", "delegation"),
		tracer:  tracer,
	}
	for _, spec := range config.Agents {
		if _, dup := s.byName[spec.Name]; dup || spec.Name == "" {
			continue
		}
		s.byName[spec.Name] = spec
		s.agents = append(s.agents, spec)
	}
	s.schema = parameterSchema(s.Names())
	return s
}

// Name implements agent.Middleware.
func (s *Stage) Name() string {
	return "delegation"
}

// Names returns the sub-agent names in registration order.
func (s *Stage) Names() []string {
	names := make([]string, len(s.agents))
	for i, spec := range s.agents {
		names[i] = spec.Name
	}
	return names
}

// Tools implements agent.ToolSource.
func (s *Stage) Tools(ctx context.Context, state *agent.State) []agent.ToolDescriptor {
	if len(s.agents) == 0 {
		return nil
	}
	return []agent.ToolDescriptor{{
		ToolSpec: agent.ToolSpec{
			Name:        ToolName,
			Description: s.description(),
			Parameters:  s.schema,
		},
		Execute: s.execute,
	}}
}

func (s *Stage) description() string {
	return fmt.Sprintf("Delegate a task to a specialized sub-agent. Available agents: %s. "+
		"Each agent runs independently and returns a result.", strings.Join(s.Names(), ", "))
}

// delegateArgs documents the tool parameters; the agent_name enum and
// description are filled in per stage.
type delegateArgs struct {
	AgentName       string `json:"agent_name"`
	TaskDescription string `json:"task_description" jsonschema:"description=A clear description of the task for the sub-agent to perform."`
}

func parameterSchema(names []string) json.RawMessage {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	schema := r.Reflect(&delegateArgs{})
	schema.Version = ""
	schema.ID = ""

	if prop, ok := schema.Properties.Get("agent_name"); ok {
		prop.Description = "Name of the sub-agent to delegate to. One of: " + strings.Join(names, ", ")
		prop.Enum = make([]any, len(names))
		for i, name := range names {
			prop.Enum[i] = name
		}
	}

	data, err := json.Marshal(schema)
	if err != nil {
		return agent.EmptyObjectSchema
	}
	return data
}

type delegateResult struct {
	Agent      string `json:"agent"`
	Result     string `json:"result"`
	Iterations int    `json:"iterations"`
}

type delegateError struct {
	Error string `json:"error"`
}

func encode(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(data)
}

func (s *Stage) execute(ctx context.Context, args map[string]any, state *agent.State) (any, error) {
	name, _ := args["agent_name"].(string)
	task, _ := args["task_description"].(string)

	spec, ok := s.byName[name]
	if !ok {
		return encode(delegateError{Error: "Unknown sub-agent: " + name}), nil
	}
	return s.Delegate(ctx, spec, task, state), nil
}

// Delegate runs spec on task with a fork of parent restricted to the spec's
// shared keys and returns the encoded result. Faults become an encoded error
// result; they never propagate. Shared keys are merged back only on success.
func (s *Stage) Delegate(ctx context.Context, spec AgentSpec, task string, parent *agent.State) string {
	if parent == nil {
		parent = agent.NewState(nil)
	}
	resolved := spec.Resolved(s.parent)

	ctx, span := s.tracer.Start(ctx, "agent.delegate", trace.WithAttributes(
		attribute.String("agent.sub_agent", spec.Name),
		attribute.String("agent.model", resolved.Model),
	))
	defer span.End()

	rec := s.begin(spec.Name, task)
	s.logger.Info("delegating to sub-agent", "agent", spec.Name, "delegation_id", rec.ID, "task", task)

	result, err := s.run(ctx, resolved, task, parent)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("sub-agent failed", "agent", spec.Name, "delegation_id", rec.ID, "error", err)
		s.finish(rec.ID, 0, err)
		return encode(delegateError{Error: fmt.Sprintf("Sub-agent %q failed: %s", spec.Name, err.Error())})
	}

	content := ""
	if result.Response != nil {
		content = result.Response.Message.Content
	}
	span.SetAttributes(attribute.Int("agent.iterations", result.Iterations))
	s.logger.Info("sub-agent finished", "agent", spec.Name, "delegation_id", rec.ID, "iterations", result.Iterations)
	s.finish(rec.ID, result.Iterations, nil)

	return encode(delegateResult{Agent: spec.Name, Result: content, Iterations: result.Iterations})
}

func (s *Stage) run(ctx context.Context, spec AgentSpec, task string, parent *agent.State) (*agent.RunResult, error) {
	if s.factory == nil {
		return nil, fmt.Errorf("no sub-agent factory configured")
	}
	forked, err := parent.Fork(spec.SharedStateKeys...)
	if err != nil {
		return nil, err
	}
	runner, err := s.factory(spec)
	if err != nil {
		return nil, err
	}

	result, err := runner.Run(ctx, []models.Message{models.NewUserMessage(task)}, forked)
	if err != nil {
		return nil, err
	}
	if len(spec.SharedStateKeys) > 0 {
		parent.MergeFrom(forked, spec.SharedStateKeys...)
	}
	return result, nil
}

// Status is the lifecycle state of a delegation.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Record tracks one delegation.
type Record struct {
	ID          string    `json:"id"`
	Agent       string    `json:"agent"`
	Task        string    `json:"task"`
	Status      Status    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
	Iterations  int       `json:"iterations,omitempty"`
	Error       string    `json:"error,omitempty"`
}

func (s *Stage) begin(name, task string) Record {
	rec := Record{
		ID:        uuid.NewString(),
		Agent:     name,
		Task:      task,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}
	s.mu.Lock()
	s.history = append(s.history, rec)
	s.mu.Unlock()
	return rec
}

func (s *Stage) finish(id string, iterations int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.history {
		if s.history[i].ID != id {
			continue
		}
		rec := &s.history[i]
		rec.CompletedAt = time.Now()
		rec.Iterations = iterations
		if err != nil {
			rec.Status = StatusFailed
			rec.Error = err.Error()
		} else {
			rec.Status = StatusCompleted
		}
		return
	}
}

// History returns a copy of every delegation this stage has started.
func (s *Stage) History() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.history))
	copy(out, s.history)
	return out
}
