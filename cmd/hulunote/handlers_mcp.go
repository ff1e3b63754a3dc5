package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/hulunote/hulunote/internal/agent"
	"github.com/hulunote/hulunote/internal/agents"
	"github.com/hulunote/hulunote/internal/config"
	"github.com/hulunote/hulunote/internal/mcp"
	"github.com/hulunote/hulunote/internal/observability"
	"github.com/hulunote/hulunote/pkg/models"
)

// =============================================================================
// MCP Command Handlers
// =============================================================================

// hostState is one generation of the served configuration.
type hostState struct {
	cfg     *config.Config
	client  agent.ModelClient
	manager *mcp.Manager
}

// agentHost runs agents for the MCP server and swaps its configuration on
// reload. Runs already in flight finish on the generation they started with.
type agentHost struct {
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.Metrics

	current atomic.Pointer[hostState]
	mu      sync.Mutex
}

// newHostState builds the client and MCP manager for cfg and connects the
// manager's servers.
func (h *agentHost) newHostState(ctx context.Context, cfg *config.Config) (*hostState, error) {
	client, err := newModelClient(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("model client: %w", err)
	}
	if h.metrics != nil {
		client = h.metrics.InstrumentClient(client, cfg.LLM.Provider)
	}
	st := &hostState{
		cfg:     cfg,
		client:  client,
		manager: mcp.NewManager(cfg.MCP.Servers, h.logger),
	}
	if len(cfg.MCP.Servers) > 0 {
		if err := st.manager.ConnectAll(ctx); err != nil {
			h.logger.Warn("some MCP servers failed to connect", "error", err)
		}
	}
	return st, nil
}

// options builds agent options for one generation.
func (h *agentHost) options(st *hostState) agents.Options {
	var tools agent.ToolProvider
	if len(st.cfg.MCP.Servers) > 0 {
		tools = st.manager
		if h.metrics != nil {
			tools = h.metrics.InstrumentTools(tools)
		}
	}
	opts := agentOptions(st.cfg, st.client, tools, h.logger)
	opts.Tracer = h.tracer
	if h.metrics != nil {
		opts.Progress = h.metrics
	}
	return opts
}

// run implements mcp.AgentRunFunc.
func (h *agentHost) run(ctx context.Context, agentName, prompt string) (*agent.RunResult, error) {
	st := h.current.Load()
	if st == nil {
		return nil, errors.New("agent host is not initialized")
	}
	deep, err := agents.Select(h.options(st), agentName)
	if err != nil {
		return nil, err
	}
	return deep.Run(ctx, []models.Message{models.NewUserMessage(prompt)}, nil)
}

// load installs cfg as the current generation and closes the previous one's
// MCP connections.
func (h *agentHost) load(ctx context.Context, cfg *config.Config) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, err := h.newHostState(ctx, cfg)
	if err != nil {
		return err
	}
	if prev := h.current.Swap(st); prev != nil {
		if err := prev.manager.DisconnectAll(); err != nil {
			h.logger.Warn("failed to disconnect previous MCP servers", "error", err)
		}
	}
	return nil
}

// close disconnects the current generation.
func (h *agentHost) close() {
	if st := h.current.Load(); st != nil {
		if err := st.manager.DisconnectAll(); err != nil {
			h.logger.Warn("failed to disconnect MCP servers", "error", err)
		}
	}
}

// runMcpServe handles the mcp serve command.
func runMcpServe(cmd *cobra.Command, flags *globalFlags, opts *serveOptions) error {
	cfg, path, err := loadConfig(flags)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	host := &agentHost{logger: logger}

	tracing := cfg.Observability.Tracing
	if tracing.Enabled {
		tracer, shutdown := observability.NewTracer(observability.TraceConfig{
			ServiceName:    tracing.ServiceName,
			ServiceVersion: firstNonEmpty(tracing.ServiceVersion, version),
			Environment:    tracing.Environment,
			Endpoint:       tracing.Endpoint,
			SamplingRate:   tracing.SamplingRate,
			Attributes:     tracing.Attributes,
			EnableInsecure: tracing.Insecure,
		})
		host.tracer = tracer.Tracer()
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("failed to flush traces", "error", err)
			}
		}()
	}

	metricsAddr := opts.metricsAddr
	if metricsAddr == "" && cfg.Observability.Metrics.Enabled {
		metricsAddr = cfg.Observability.Metrics.Addr
	}
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		host.metrics = observability.NewMetrics(reg)
		stop := serveMetrics(ctx, metricsAddr, reg, logger)
		defer stop()
	}

	if err := host.load(ctx, cfg); err != nil {
		return err
	}
	defer host.close()

	srv := mcp.NewAgentServer(mcp.AgentServerConfig{
		Name:    "hulunote",
		Version: version,
		Agents:  cfg.SubAgentNames(),
		Run:     host.run,
		Logger:  logger,
	})

	if opts.watch {
		go func() {
			err := config.Watch(ctx, path, func(next *config.Config) {
				if err := host.load(ctx, next); err != nil {
					logger.Warn("config reload rejected", "error", err)
					return
				}
				srv.SetAgents(next.SubAgentNames())
			}, config.WatchOptions{Logger: logger})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("config watcher stopped", "error", err)
			}
		}()
	}

	logger.Info("MCP server started", "transport", "stdio", "config", path, "sub_agents", len(cfg.Agent.SubAgents))
	if err := srv.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	logger.Info("MCP server stopped")
	return nil
}

// serveMetrics serves the registry on addr until the returned stop function
// is called or ctx is done.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(reg))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics server started", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown failed", "error", err)
			}
		})
	}
	go func() {
		<-ctx.Done()
		stop()
	}()
	return stop
}

// runMcpServers handles the mcp servers command.
func runMcpServers(cmd *cobra.Command, flags *globalFlags) error {
	cfg, _, err := loadConfig(flags)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, cmd.ErrOrStderr())

	out := cmd.OutOrStdout()
	if len(cfg.MCP.Servers) == 0 {
		fmt.Fprintln(out, "No MCP servers configured.")
		return nil
	}

	mgr := mcp.NewManager(cfg.MCP.Servers, logger)
	defer func() {
		if err := mgr.DisconnectAll(); err != nil {
			logger.Warn("failed to disconnect MCP servers", "error", err)
		}
	}()
	connectErr := mgr.ConnectAll(cmd.Context())

	fmt.Fprintln(out, "MCP Servers:")
	for _, status := range mgr.Status() {
		state := "disconnected"
		if status.Connected {
			state = "connected"
		}
		fmt.Fprintf(out, "  %s (%s) - %s\n", status.ID, dash(status.Name), state)
		if status.Connected && status.Server != "" {
			fmt.Fprintf(out, "    Server: %s %s\n", status.Server, status.Version)
		}
	}
	if connectErr != nil {
		fmt.Fprintf(out, "\nConnection errors:\n  %v\n", connectErr)
	}
	return nil
}
