// Package observability wires logging, metrics and tracing for hulunote.
//
// # Logging
//
// NewLogger builds a log/slog logger whose handler redacts secrets (API keys,
// bearer tokens, JWTs and any configured patterns) and tags records logged
// with a run context with run_id and agent:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "debug", Format: "json"})
//	slog.SetDefault(logger)
//
// # Metrics
//
// Metrics is a set of Prometheus collectors. It is an agent.ProgressSink, and
// it can wrap a model client and a tool provider so every request is counted
// and timed:
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(reg)
//	client = metrics.InstrumentClient(client, "openrouter")
//	tools = metrics.InstrumentTools(manager)
//	http.Handle("/metrics", observability.Handler(reg))
//
// # Tracing
//
// NewTracer installs an OpenTelemetry tracer provider exporting over OTLP
// gRPC. The runner and the delegation stage start their spans from the
// trace.Tracer it returns.
package observability
