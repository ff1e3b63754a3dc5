package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hulunote/hulunote/pkg/models"
)

const tracerName = "github.com/hulunote/hulunote/internal/agent"

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// Name identifies the agent in logs and progress events.
	Name string

	// Client sends model requests. Required.
	Client ModelClient

	// Model is the model identifier passed on every request.
	Model string

	// SystemPrompt is the base prompt that stages fold over.
	SystemPrompt string

	// Pipeline is the ordered stage list.
	Pipeline Pipeline

	// Tools routes namespaced tool calls that have no local executor.
	// Optional, but a run that dispatches such a call without one fails.
	Tools ToolProvider

	// MaxIterations caps tool-executing iterations.
	// Default: 20
	MaxIterations int

	// MaxTokens is passed on every request (0 = client default).
	MaxTokens int

	// Temperature overrides the client default when set.
	Temperature *float32

	// ToolTimeout bounds each tool call (0 = no limit).
	ToolTimeout time.Duration

	// ValidateArguments checks parsed arguments against the tool's
	// parameter schema before execution.
	ValidateArguments bool

	// Progress receives observational progress events.
	Progress ProgressSink

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Tracer defaults to the global OpenTelemetry tracer provider.
	Tracer trace.Tracer
}

// DefaultMaxIterations is the iteration cap used when none is configured.
const DefaultMaxIterations = 20

func sanitizeRunnerConfig(config RunnerConfig) RunnerConfig {
	cfg := config
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.MaxTokens < 0 {
		cfg.MaxTokens = 0
	}
	if cfg.ToolTimeout < 0 {
		cfg.ToolTimeout = 0
	}
	if cfg.Progress == nil {
		cfg.Progress = NopSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	return cfg
}

// RunResult is the outcome of one run.
type RunResult struct {
	// RunID identifies the run in logs, spans, and progress events.
	RunID string `json:"run_id"`

	// Success is true whenever Run returns without error.
	Success bool `json:"success"`

	// Response is the finalized model reply.
	Response *ChatResponse `json:"response"`

	// ToolCalls holds every tool call issued across all iterations.
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`

	// ToolResults holds the tool-role message produced for each call, in order.
	ToolResults []models.Message `json:"tool_results,omitempty"`

	// Iterations is the number of iterations run, or the cap when exhausted.
	Iterations int `json:"iterations"`

	// MaxIterationsReached is set when the cap forced a final tool-free request.
	MaxIterationsReached bool `json:"max_iterations_reached,omitempty"`
}

// Runner drives the model/tool loop.
//
// Each iteration moves through the same phases:
//
//	prepare ──▶ model_call ──▶ (no tool calls) ──▶ OnComplete ──▶ done
//	   ▲             │
//	   │             ▼
//	   └─────── execute_tools
//
// When the cap is reached a final_call is made without tools and its reply is
// finalized the same way. A Runner holds no per-run data and may serve
// concurrent runs.
type Runner struct {
	config  RunnerConfig
	schemas *schemaCache
}

// NewRunner creates a Runner.
func NewRunner(config RunnerConfig) *Runner {
	return &Runner{
		config:  sanitizeRunnerConfig(config),
		schemas: newSchemaCache(),
	}
}

// Name returns the configured agent name.
func (r *Runner) Name() string {
	return r.config.Name
}

// Config returns the sanitized configuration.
func (r *Runner) Config() RunnerConfig {
	return r.config
}

// Run executes the loop over transcript. A nil state starts empty and the
// caller's state is mutated in place.
func (r *Runner) Run(ctx context.Context, transcript []models.Message, state *State) (*RunResult, error) {
	if r.config.Client == nil {
		return nil, &LoopError{Phase: PhasePrepare, Cause: ErrNoClient}
	}
	if len(transcript) == 0 {
		return nil, &LoopError{Phase: PhasePrepare, Cause: ErrEmptyTranscript}
	}
	if state == nil {
		state = NewState(nil)
	}

	runID := uuid.NewString()
	ctx = WithRunID(ctx, runID)
	if r.config.Name != "" {
		ctx = WithAgentName(ctx, r.config.Name)
	}
	logger := r.config.Logger.With("run_id", runID)
	if r.config.Name != "" {
		logger = logger.With("agent", r.config.Name)
	}

	ctx, span := r.config.Tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("agent.run_id", runID),
		attribute.String("agent.name", r.config.Name),
		attribute.String("llm.model", r.config.Model),
		attribute.Int("agent.max_iterations", r.config.MaxIterations),
	))
	defer span.End()

	run := &loopRun{
		runner:  r,
		runID:   runID,
		state:   state,
		logger:  logger,
		working: append([]models.Message(nil), transcript...),
	}

	result, err := run.execute(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("agent.iterations", result.Iterations),
		attribute.Bool("agent.max_iterations_reached", result.MaxIterationsReached),
	)
	return result, nil
}

// loopRun carries the mutable data of a single Run call.
type loopRun struct {
	runner  *Runner
	runID   string
	state   *State
	logger  *slog.Logger
	working []models.Message

	toolCalls   []models.ToolCall
	toolResults []models.Message
}

func (l *loopRun) execute(ctx context.Context) (*RunResult, error) {
	cfg := l.runner.config

	for iteration := 1; iteration <= cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, &LoopError{Phase: PhasePrepare, Iteration: iteration, Cause: err}
		}

		l.logger.Debug("iteration started", "iteration", iteration, "max_iterations", cfg.MaxIterations)
		l.emit(ctx, ProgressEvent{Type: EventIteration, Iteration: iteration, MaxIterations: cfg.MaxIterations})

		table := newToolTable(cfg.Pipeline.CollectTools(ctx, l.state), l.logger)

		req, err := l.prepare(ctx, table.specs())
		if err != nil {
			return nil, &LoopError{Phase: PhasePrepare, Iteration: iteration, Cause: err}
		}

		resp, err := l.send(ctx, req)
		if err != nil {
			return nil, &LoopError{Phase: PhaseModelCall, Iteration: iteration, Cause: err}
		}

		calls := resp.Message.ToolCalls
		if len(calls) == 0 {
			l.logger.Debug("run complete", "iterations", iteration)
			return l.finish(ctx, resp, iteration, false), nil
		}

		names := models.ToolNames(calls)
		l.emit(ctx, ProgressEvent{Type: EventToolCalls, Iteration: iteration, Tools: names})

		results := make([]models.Message, 0, len(calls))
		for _, call := range calls {
			if err := ctx.Err(); err != nil {
				return nil, &LoopError{Phase: PhaseExecuteTools, Iteration: iteration, Cause: err}
			}
			msg, err := l.executeTool(ctx, table, call)
			if err != nil {
				return nil, &LoopError{Phase: PhaseExecuteTools, Iteration: iteration, Cause: err}
			}
			results = append(results, msg)
		}

		assistant := resp.Message.Clone()
		assistant.Role = models.RoleAssistant

		l.toolCalls = append(l.toolCalls, calls...)
		l.toolResults = append(l.toolResults, results...)
		l.working = append(l.working, assistant)
		l.working = append(l.working, results...)
	}

	l.logger.Info("max iterations reached, requesting final response", "max_iterations", cfg.MaxIterations)
	l.emit(ctx, ProgressEvent{Type: EventMaxIterations, MaxIterations: cfg.MaxIterations})

	req, err := l.prepare(ctx, nil)
	if err != nil {
		return nil, &LoopError{Phase: PhaseFinalCall, Iteration: cfg.MaxIterations, Cause: err}
	}
	resp, err := l.send(ctx, req)
	if err != nil {
		return nil, &LoopError{Phase: PhaseFinalCall, Iteration: cfg.MaxIterations, Cause: err}
	}
	return l.finish(ctx, resp, cfg.MaxIterations, true), nil
}

// prepare composes the system prompt, preprocesses the working transcript,
// and builds the request.
func (l *loopRun) prepare(ctx context.Context, tools []ToolSpec) (*ChatRequest, error) {
	cfg := l.runner.config

	prompt := cfg.Pipeline.SystemPrompt(ctx, cfg.SystemPrompt, l.state)

	processed, err := cfg.Pipeline.BeforeModelCall(ctx, l.working, l.state)
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(processed)+1)
	if prompt != "" {
		messages = append(messages, models.NewSystemMessage(prompt))
	}
	messages = append(messages, processed...)

	return &ChatRequest{
		Model:       cfg.Model,
		Messages:    messages,
		Tools:       tools,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}, nil
}

func (l *loopRun) send(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	ctx, span := l.runner.config.Tracer.Start(ctx, "agent.model_call", trace.WithAttributes(
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.messages", len(req.Messages)),
		attribute.Int("llm.tools", len(req.Tools)),
	))
	defer span.End()

	resp, err := l.runner.config.Client.Send(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if resp == nil {
		err := errors.New("model client returned no response")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return resp, nil
}

func (l *loopRun) finish(ctx context.Context, resp *ChatResponse, iterations int, capped bool) *RunResult {
	final := *resp
	final.Message = l.runner.config.Pipeline.OnComplete(ctx, resp.Message, l.state)

	return &RunResult{
		RunID:                l.runID,
		Success:              true,
		Response:             &final,
		ToolCalls:            l.toolCalls,
		ToolResults:          l.toolResults,
		Iterations:           iterations,
		MaxIterationsReached: capped,
	}
}

func (l *loopRun) emit(ctx context.Context, e ProgressEvent) {
	e.RunID = l.runID
	if e.Agent == "" {
		e.Agent = l.runner.config.Name
	}
	e.Time = time.Now()
	l.runner.config.Progress.Emit(ctx, e)
}

// executeTool runs one call and returns its tool-role message. Tool faults
// become result content; only host misconfiguration is returned as an error.
func (l *loopRun) executeTool(ctx context.Context, table *toolTable, call models.ToolCall) (models.Message, error) {
	cfg := l.runner.config

	ctx, span := cfg.Tracer.Start(ctx, "agent.tool_call", trace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	))
	defer span.End()

	args, perr := parseArguments(call.Arguments)
	if perr != nil {
		l.logger.Warn("failed to parse tool arguments", "tool", call.Name, "tool_call_id", call.ID, "error", perr)
		args = map[string]any{}
	}

	descriptor, found := table.lookup(call.Name)
	if _, _, remote := SplitToolName(call.Name); remote && !descriptor.IsLocal() && cfg.Tools == nil {
		return models.Message{}, fmt.Errorf("%w: cannot dispatch %q", ErrNoToolProvider, call.Name)
	}

	l.logger.Debug("executing tool", "tool", call.Name, "tool_call_id", call.ID, "local", found && descriptor.IsLocal())

	var (
		content string
		err     error
	)
	if found && cfg.ValidateArguments {
		if verr := l.runner.schemas.validate(descriptor, args); verr != nil {
			err = NewToolError(call.Name, verr).WithType(ToolErrorInvalidInput)
		}
	}
	if err == nil {
		content, err = l.invoke(ctx, descriptor, found, call.Name, args)
	}
	if err != nil {
		toolErr, ok := GetToolError(err)
		if !ok {
			toolErr = NewToolError(call.Name, err)
		}
		toolErr.WithToolCallID(call.ID)
		l.logger.Warn("tool execution failed", "tool", call.Name, "tool_call_id", call.ID, "type", toolErr.Type, "error", toolErr.Message)
		span.RecordError(toolErr)
		span.SetStatus(codes.Error, toolErr.Message)
		content = errorContent(toolErr.Message)
	}

	content = cfg.Pipeline.AfterToolExecution(ctx, ToolInvocation{ID: call.ID, Name: call.Name, Args: args}, content, l.state)
	return models.NewToolMessage(call.ID, content), nil
}

// invoke runs the local executor or routes to the tool provider, applying the
// optional timeout and recovering panics.
func (l *loopRun) invoke(ctx context.Context, d ToolDescriptor, found bool, name string, args map[string]any) (content string, err error) {
	cfg := l.runner.config
	parent := ctx
	if cfg.ToolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ToolTimeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = NewToolError(name, fmt.Errorf("%w: %v", ErrToolPanic, rec)).WithType(ToolErrorPanic)
		}
	}()

	var result any
	if found && d.IsLocal() {
		result, err = d.Execute(ctx, args, l.state)
		if err == nil {
			if s, ok := result.(string); ok {
				return s, nil
			}
		}
	} else {
		providerID, toolName, ok := SplitToolName(name)
		if !ok {
			return "", NewToolError(name, fmt.Errorf("%w: %s", ErrToolNotFound, name)).WithType(ToolErrorNotFound)
		}
		result, err = cfg.Tools.Invoke(ctx, providerID, toolName, args)
	}
	if err != nil {
		if cfg.ToolTimeout > 0 && parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", NewToolError(name, fmt.Errorf("%w after %s", ErrToolTimeout, cfg.ToolTimeout)).WithType(ToolErrorTimeout)
		}
		return "", err
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode tool result: %w", err)
	}
	return string(encoded), nil
}

// errorContent renders a tool fault as the model-visible {"error": msg} payload.
func errorContent(msg string) string {
	data, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return `{"error":"tool execution failed"}`
	}
	return string(data)
}
