// Package agents assembles ready-to-run agents from the orchestration core:
// the default stage order, the delegation wiring and the sub-agent factory.
package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hulunote/hulunote/internal/agent"
	"github.com/hulunote/hulunote/internal/compaction"
	"github.com/hulunote/hulunote/internal/mcp"
	"github.com/hulunote/hulunote/internal/tools/subagent"
	"github.com/hulunote/hulunote/pkg/models"
)

// DefaultName names the top-level agent.
const DefaultName = "main"

// Options configures a deep agent.
type Options struct {
	Name         string
	Client       agent.ModelClient
	Model        string
	SystemPrompt string

	// Tools is the external tool provider. When set, its tools are
	// discovered every iteration and calls are routed back to it.
	Tools agent.ToolProvider

	// Pipeline replaces the default stage list when non-nil.
	Pipeline agent.Pipeline

	// SubAgents enables delegation when non-empty.
	SubAgents []subagent.AgentSpec

	MaxIterations     int
	MaxTokens         int
	Temperature       *float32
	ToolTimeout       time.Duration
	ValidateArguments bool

	// TokenThreshold and SummaryMaxTokens tune compaction (0 = defaults).
	TokenThreshold   int
	SummaryMaxTokens int
	OnCompact        func(ctx context.Context, before, after int)

	// ResultGuard is installed when it has any rule.
	ResultGuard agent.ToolResultGuard

	Progress agent.ProgressSink
	Logger   *slog.Logger
	Tracer   trace.Tracer
}

// DeepAgent is a runner with the default stage stack.
type DeepAgent struct {
	runner     *agent.Runner
	delegation *subagent.Stage
}

// New assembles a deep agent. Without an explicit pipeline the stages run in
// this order: tool discovery, compaction, delegation (when sub-agents are
// configured), result guard (when configured), transcript repair.
func New(opts Options) *DeepAgent {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	a := &DeepAgent{}
	pipeline := opts.Pipeline
	if pipeline == nil {
		pipeline, a.delegation = defaultPipeline(opts)
	}

	a.runner = agent.NewRunner(agent.RunnerConfig{
		Name:              opts.Name,
		Client:            opts.Client,
		Model:             opts.Model,
		SystemPrompt:      opts.SystemPrompt,
		Pipeline:          pipeline,
		Tools:             opts.Tools,
		MaxIterations:     opts.MaxIterations,
		MaxTokens:         opts.MaxTokens,
		Temperature:       opts.Temperature,
		ToolTimeout:       opts.ToolTimeout,
		ValidateArguments: opts.ValidateArguments,
		Progress:          opts.Progress,
		Logger:            opts.Logger,
		Tracer:            opts.Tracer,
	})
	return a
}

func defaultPipeline(opts Options) (agent.Pipeline, *subagent.Stage) {
	var (
		pipeline   agent.Pipeline
		delegation *subagent.Stage
	)

	if opts.Tools != nil {
		pipeline = append(pipeline, mcp.NewDiscoveryStage(opts.Tools, opts.Logger))
	}

	pipeline = append(pipeline, compaction.New(compaction.Config{
		Client:           opts.Client,
		Model:            opts.Model,
		TokenThreshold:   opts.TokenThreshold,
		SummaryMaxTokens: opts.SummaryMaxTokens,
		OnCompact:        opts.OnCompact,
		Logger:           opts.Logger,
	}))

	if len(opts.SubAgents) > 0 {
		delegation = subagent.New(subagent.Config{
			Agents:      opts.SubAgents,
			ParentModel: opts.Model,
			Factory:     subRunnerFactory(opts),
			Logger:      opts.Logger,
			Tracer:      opts.Tracer,
		})
		pipeline = append(pipeline, delegation)
	}

	if opts.ResultGuard.Active() {
		pipeline = append(pipeline, agent.NewResultGuardStage(opts.ResultGuard, opts.Logger))
	}

	pipeline = append(pipeline, agent.NewRepairStage(opts.Logger))
	return pipeline, delegation
}

// subRunnerFactory builds sub-agents from the parent's options. Sub-agents
// share the client and tool provider, never delegate themselves, always use
// the default stage list, and report progress through the parent's sink
// tagged with their own name.
func subRunnerFactory(parent Options) subagent.RunnerFactory {
	return func(spec subagent.AgentSpec) (subagent.SubRunner, error) {
		sub := parent
		sub.Name = spec.Name
		sub.Model = spec.Model
		sub.SystemPrompt = spec.SystemPrompt
		sub.MaxIterations = spec.MaxIterations
		sub.SubAgents = nil
		sub.Pipeline = nil
		if parent.Progress != nil {
			sub.Progress = agent.AgentSink{Agent: spec.Name, Next: parent.Progress}
		}
		return New(sub), nil
	}
}

// ErrUnknownAgent is returned by Select for a name that is neither the
// top-level agent nor one of its sub-agents.
var ErrUnknownAgent = errors.New("unknown agent")

// Select returns the agent to run for name: the top-level agent for an empty
// name or its own name, otherwise a standalone instance of the named
// sub-agent built exactly as delegation would build it.
func Select(opts Options, name string) (*DeepAgent, error) {
	top := opts.Name
	if top == "" {
		top = DefaultName
	}
	if name == "" || name == top {
		return New(opts), nil
	}
	for _, spec := range opts.SubAgents {
		if spec.Name != name {
			continue
		}
		runner, err := subRunnerFactory(opts)(spec.Resolved(opts.Model))
		if err != nil {
			return nil, err
		}
		return runner.(*DeepAgent), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, name)
}

// Run runs the agent. A nil state starts from an empty one.
func (a *DeepAgent) Run(ctx context.Context, transcript []models.Message, state *agent.State) (*agent.RunResult, error) {
	if state == nil {
		state = agent.NewState(nil)
	}
	return a.runner.Run(ctx, transcript, state)
}

// Runner returns the underlying runner.
func (a *DeepAgent) Runner() *agent.Runner {
	return a.runner
}

// Stages returns the names of the configured stages in order.
func (a *DeepAgent) Stages() []string {
	return a.runner.Config().Pipeline.Names()
}

// Delegations returns the delegation history, or nil when the agent cannot
// delegate.
func (a *DeepAgent) Delegations() []subagent.Record {
	if a.delegation == nil {
		return nil
	}
	return a.delegation.History()
}
