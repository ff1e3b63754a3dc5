package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hulunote/hulunote/internal/agent"
	"github.com/hulunote/hulunote/internal/agent/providers"
)

// Metrics holds the Prometheus collectors for agent runs.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(reg)
//	client := metrics.InstrumentClient(openrouter, "openrouter")
//	progress := agent.NewMultiSink(metrics, cliSink)
//	http.Handle("/metrics", observability.Handler(reg))
type Metrics struct {
	// Iterations counts loop iterations.
	// Labels: agent
	Iterations *prometheus.CounterVec

	// ToolCallBatches counts iterations that dispatched tool calls, and
	// ToolCalls the individual calls announced in them.
	// Labels: agent (batches); agent, tool (calls)
	ToolCallBatches *prometheus.CounterVec
	ToolCalls       *prometheus.CounterVec

	// MaxIterationsReached counts runs that exhausted their iteration cap.
	// Labels: agent
	MaxIterationsReached *prometheus.CounterVec

	// LLMRequestDuration measures model request latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts model requests.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts calls routed to external tool providers.
	// Labels: provider, tool, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures external tool latency in seconds.
	// Labels: provider
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by component and type.
	// Labels: component (llm|tool), error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// uses the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Iterations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hulunote_agent_iterations_total",
				Help: "Total number of agent loop iterations by agent",
			},
			[]string{"agent"},
		),

		ToolCallBatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hulunote_agent_tool_call_batches_total",
				Help: "Total number of iterations that dispatched tool calls by agent",
			},
			[]string{"agent"},
		),

		ToolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hulunote_agent_tool_calls_total",
				Help: "Total number of tool calls requested by the model by agent and tool",
			},
			[]string{"agent", "tool"},
		),

		MaxIterationsReached: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hulunote_agent_max_iterations_total",
				Help: "Total number of runs that exhausted their iteration cap by agent",
			},
			[]string{"agent"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hulunote_llm_request_duration_seconds",
				Help:    "Duration of model requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hulunote_llm_requests_total",
				Help: "Total number of model requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hulunote_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hulunote_tool_executions_total",
				Help: "Total number of external tool executions by provider, tool, and status",
			},
			[]string{"provider", "tool", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hulunote_tool_execution_duration_seconds",
				Help:    "Duration of external tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hulunote_errors_total",
				Help: "Total number of errors by component and type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// Handler serves the metrics gathered by g. A nil g serves the default
// registry.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Emit implements agent.ProgressSink.
func (m *Metrics) Emit(ctx context.Context, e agent.ProgressEvent) {
	name := e.Agent
	if name == "" {
		name = "unknown"
	}
	switch e.Type {
	case agent.EventIteration:
		m.Iterations.WithLabelValues(name).Inc()
	case agent.EventToolCalls:
		m.ToolCallBatches.WithLabelValues(name).Inc()
		for _, tool := range e.Tools {
			m.ToolCalls.WithLabelValues(name, tool).Inc()
		}
	case agent.EventMaxIterations:
		m.MaxIterationsReached.WithLabelValues(name).Inc()
	}
}

// RecordLLMRequest records one model request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records one external tool call.
func (m *Metrics) RecordToolExecution(provider, tool, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(provider, tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(provider).Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// InstrumentClient wraps client so every request is counted and timed under
// the given provider label.
func (m *Metrics) InstrumentClient(client agent.ModelClient, provider string) agent.ModelClient {
	return &instrumentedClient{next: client, provider: provider, metrics: m}
}

type instrumentedClient struct {
	next     agent.ModelClient
	provider string
	metrics  *Metrics
}

func (c *instrumentedClient) Send(ctx context.Context, req *agent.ChatRequest) (*agent.ChatResponse, error) {
	start := time.Now()
	resp, err := c.next.Send(ctx, req)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		c.metrics.RecordLLMRequest(c.provider, req.Model, "error", elapsed, 0, 0)
		c.metrics.RecordError("llm", llmErrorType(err))
		return nil, err
	}
	c.metrics.RecordLLMRequest(c.provider, req.Model, "success", elapsed, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	return resp, nil
}

// Unwrap returns the wrapped client.
func (c *instrumentedClient) Unwrap() agent.ModelClient {
	return c.next
}

func llmErrorType(err error) string {
	var perr *providers.ProviderError
	if errors.As(err, &perr) && perr.Reason != "" {
		return string(perr.Reason)
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "unknown"
}

// InstrumentTools wraps a tool provider so every call routed to it is
// counted and timed.
func (m *Metrics) InstrumentTools(tools agent.ToolProvider) agent.ToolProvider {
	return &instrumentedTools{next: tools, metrics: m}
}

type instrumentedTools struct {
	next    agent.ToolProvider
	metrics *Metrics
}

func (p *instrumentedTools) ListProviders(ctx context.Context) []string {
	return p.next.ListProviders(ctx)
}

func (p *instrumentedTools) ListTools(ctx context.Context, providerID string) ([]agent.ToolSpec, error) {
	specs, err := p.next.ListTools(ctx, providerID)
	if err != nil {
		p.metrics.RecordError("tool", "list_tools")
	}
	return specs, err
}

func (p *instrumentedTools) Invoke(ctx context.Context, providerID, tool string, args map[string]any) (any, error) {
	start := time.Now()
	out, err := p.next.Invoke(ctx, providerID, tool, args)
	status := "success"
	if err != nil {
		status = "error"
		p.metrics.RecordError("tool", "invoke")
	}
	p.metrics.RecordToolExecution(providerID, tool, status, time.Since(start).Seconds())
	return out, err
}
