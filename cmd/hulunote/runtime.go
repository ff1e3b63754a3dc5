package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/hulunote/hulunote/internal/agent"
	"github.com/hulunote/hulunote/internal/agent/providers"
	"github.com/hulunote/hulunote/internal/agents"
	"github.com/hulunote/hulunote/internal/config"
	"github.com/hulunote/hulunote/internal/mcp"
	"github.com/hulunote/hulunote/internal/observability"
)

// =============================================================================
// Runtime Assembly
// =============================================================================

// apiKeyEnv maps providers to the environment variable consulted when the
// config has no api_key.
var apiKeyEnv = map[string]string{
	"openrouter": "OPENROUTER_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
}

// newModelClient builds the client for the configured provider. Tests
// replace it with a scripted client.
var newModelClient = func(cfg config.LLMConfig) (agent.ModelClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		if env, ok := apiKeyEnv[cfg.Provider]; ok {
			apiKey = os.Getenv(env)
		}
	}

	switch cfg.Provider {
	case "openrouter":
		return providers.NewOpenRouterClient(providers.OpenRouterConfig{
			APIKey:       apiKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			AppName:      cfg.AppName,
			SiteURL:      cfg.SiteURL,
			Temperature:  cfg.Temperature,
			MaxTokens:    cfg.MaxTokens,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
		})
	case "openai", "ollama":
		if cfg.Provider == "ollama" && apiKey == "" {
			// Ollama ignores the key but the OpenAI client requires one.
			apiKey = "ollama"
		}
		return providers.NewOpenAIClient(providers.OpenAIConfig{
			Provider:     cfg.Provider,
			APIKey:       apiKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			Temperature:  cfg.Temperature,
			MaxTokens:    cfg.MaxTokens,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
		})
	case "anthropic":
		return providers.NewAnthropicClient(providers.AnthropicConfig{
			APIKey:       apiKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			Temperature:  cfg.Temperature,
			MaxTokens:    cfg.MaxTokens,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
		})
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}

// loadConfig resolves and loads the config. A missing file at the implicit
// default path yields the default config so the CLI works without one.
func loadConfig(flags *globalFlags) (*config.Config, string, error) {
	path := config.ResolvePath(flags.configPath)
	implicit := flags.configPath == "" && os.Getenv(config.EnvConfigPath) == ""

	var cfg *config.Config
	if _, err := os.Stat(path); implicit && errors.Is(err, os.ErrNotExist) {
		cfg = config.Default()
	} else {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, path, err
		}
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	return cfg, path, nil
}

// newLogger builds the process logger from the logging section. Output
// always goes to errOut so stdout carries only command output.
func newLogger(cfg config.LoggingConfig, errOut io.Writer) *slog.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:          cfg.Level,
		Format:         cfg.Format,
		Output:         errOut,
		AddSource:      cfg.AddSource,
		RedactPatterns: cfg.RedactPatterns,
	})
}

// runtime bundles what a command needs to run agents.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	client   agent.ModelClient
	manager  *mcp.Manager
	tracer   *observability.Tracer
	shutdown func(context.Context) error
}

// newRuntime builds the client, logger, tracer and MCP manager for cfg.
// MCP servers are not connected yet.
func newRuntime(cfg *config.Config, errOut io.Writer) (*runtime, error) {
	logger := newLogger(cfg.Logging, errOut)
	slog.SetDefault(logger)

	client, err := newModelClient(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("model client: %w", err)
	}

	rt := &runtime{
		cfg:      cfg,
		logger:   logger,
		client:   client,
		manager:  mcp.NewManager(cfg.MCP.Servers, logger),
		shutdown: func(context.Context) error { return nil },
	}

	tracing := cfg.Observability.Tracing
	if tracing.Enabled {
		rt.tracer, rt.shutdown = observability.NewTracer(observability.TraceConfig{
			ServiceName:    tracing.ServiceName,
			ServiceVersion: firstNonEmpty(tracing.ServiceVersion, version),
			Environment:    tracing.Environment,
			Endpoint:       tracing.Endpoint,
			SamplingRate:   tracing.SamplingRate,
			Attributes:     tracing.Attributes,
			EnableInsecure: tracing.Insecure,
		})
	}
	return rt, nil
}

// connect connects every configured MCP server. Failures are logged and the
// remaining servers stay usable.
func (rt *runtime) connect(ctx context.Context) {
	if len(rt.cfg.MCP.Servers) == 0 {
		return
	}
	if err := rt.manager.ConnectAll(ctx); err != nil {
		rt.logger.Warn("some MCP servers failed to connect", "error", err)
	}
}

// close disconnects MCP servers and flushes traces.
func (rt *runtime) close() {
	if err := rt.manager.DisconnectAll(); err != nil {
		rt.logger.Warn("failed to disconnect MCP servers", "error", err)
	}
	if err := rt.shutdown(context.Background()); err != nil {
		rt.logger.Warn("failed to flush traces", "error", err)
	}
}

// tools returns the tool provider to hand to agents, or nil when no MCP
// servers are configured.
func (rt *runtime) tools() agent.ToolProvider {
	if len(rt.cfg.MCP.Servers) == 0 {
		return nil
	}
	return rt.manager
}

// agentOptions maps the config onto agent options.
func agentOptions(cfg *config.Config, client agent.ModelClient, tools agent.ToolProvider, logger *slog.Logger) agents.Options {
	return agents.Options{
		Name:              cfg.Agent.Name,
		Client:            client,
		Model:             cfg.LLM.Model,
		SystemPrompt:      cfg.Agent.SystemPrompt,
		Tools:             tools,
		SubAgents:         cfg.Agent.SubAgents,
		MaxIterations:     cfg.Agent.MaxIterations,
		MaxTokens:         cfg.LLM.MaxTokens,
		Temperature:       cfg.LLM.Temperature,
		ToolTimeout:       cfg.Agent.ToolTimeout,
		ValidateArguments: cfg.Agent.ValidateArguments,
		TokenThreshold:    cfg.Agent.Compaction.TokenThreshold,
		SummaryMaxTokens:  cfg.Agent.Compaction.SummaryMaxTokens,
		ResultGuard:       cfg.Agent.ResultGuard,
		Logger:            logger,
	}
}

// options builds agent options for the runtime's current config.
func (rt *runtime) options() agents.Options {
	opts := agentOptions(rt.cfg, rt.client, rt.tools(), rt.logger)
	if rt.tracer != nil {
		opts.Tracer = rt.tracer.Tracer()
	}
	return opts
}

// progressWriter prints progress events as single lines.
func progressWriter(w io.Writer) agent.ProgressSink {
	return agent.ProgressFunc(func(ctx context.Context, e agent.ProgressEvent) {
		name := e.Agent
		if name == "" {
			name = agents.DefaultName
		}
		switch e.Type {
		case agent.EventIteration:
			fmt.Fprintf(w, "[%s] iteration %d/%d\n", name, e.Iteration, e.MaxIterations)
		case agent.EventToolCalls:
			fmt.Fprintf(w, "[%s] calling %s\n", name, strings.Join(e.Tools, ", "))
		case agent.EventMaxIterations:
			fmt.Fprintf(w, "[%s] reached max iterations (%d)\n", name, e.MaxIterations)
		}
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
