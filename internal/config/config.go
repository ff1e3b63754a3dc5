// Package config loads the hulunote configuration: the model provider, the
// agent and its sub-agents, MCP tool servers, logging and observability.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/hulunote/hulunote/internal/agent"
	"github.com/hulunote/hulunote/internal/mcp"
	"github.com/hulunote/hulunote/internal/tools/subagent"
)

// Defaults applied by Load.
const (
	DefaultProvider         = "openrouter"
	DefaultTemperature      = 0.7
	DefaultMaxTokens        = 4000
	DefaultMaxIterations    = 20
	DefaultTokenThreshold   = 80000
	DefaultSummaryMaxTokens = 2000
	DefaultOllamaBaseURL    = "http://localhost:11434/v1"

	// EnvConfigPath overrides the default config path.
	EnvConfigPath = "HULUNOTE_CONFIG"

	// DefaultPath is used when neither a flag nor EnvConfigPath names a file.
	DefaultPath = "hulunote.yaml"
)

// Providers lists the supported model backends.
var Providers = []string{"openrouter", "openai", "anthropic", "ollama"}

// Config is the main configuration structure for hulunote.
type Config struct {
	Version       int                 `yaml:"version" json:"version,omitempty"`
	LLM           LLMConfig           `yaml:"llm" json:"llm"`
	Agent         AgentConfig         `yaml:"agent" json:"agent"`
	MCP           MCPConfig           `yaml:"mcp" json:"mcp"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// LLMConfig selects and configures the model backend.
type LLMConfig struct {
	Provider string `yaml:"provider" json:"provider,omitempty" jsonschema:"enum=openrouter,enum=openai,enum=anthropic,enum=ollama"`
	APIKey   string `yaml:"api_key" json:"api_key,omitempty"`
	BaseURL  string `yaml:"base_url" json:"base_url,omitempty"`
	Model    string `yaml:"model" json:"model,omitempty"`

	Temperature *float32 `yaml:"temperature" json:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens" json:"max_tokens,omitempty"`

	// SiteURL and AppName identify the app to OpenRouter.
	SiteURL string `yaml:"site_url" json:"site_url,omitempty"`
	AppName string `yaml:"app_name" json:"app_name,omitempty"`

	MaxRetries int           `yaml:"max_retries" json:"max_retries,omitempty"`
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay,omitempty"`
}

// AgentConfig configures the top-level agent.
type AgentConfig struct {
	Name              string                `yaml:"name" json:"name,omitempty"`
	SystemPrompt      string                `yaml:"system_prompt" json:"system_prompt,omitempty"`
	MaxIterations     int                   `yaml:"max_iterations" json:"max_iterations,omitempty"`
	ToolTimeout       time.Duration         `yaml:"tool_timeout" json:"tool_timeout,omitempty"`
	ValidateArguments bool                  `yaml:"validate_arguments" json:"validate_arguments,omitempty"`
	SubAgents         []subagent.AgentSpec  `yaml:"sub_agents" json:"sub_agents,omitempty"`
	Compaction        CompactionConfig      `yaml:"compaction" json:"compaction"`
	ResultGuard       agent.ToolResultGuard `yaml:"result_guard" json:"result_guard"`
}

// CompactionConfig tunes context compaction.
type CompactionConfig struct {
	TokenThreshold   int `yaml:"token_threshold" json:"token_threshold,omitempty"`
	SummaryMaxTokens int `yaml:"summary_max_tokens" json:"summary_max_tokens,omitempty"`
}

// MCPConfig lists the MCP servers whose tools the agent can call.
type MCPConfig struct {
	Servers []*mcp.ServerConfig `yaml:"servers" json:"servers,omitempty"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level          string   `yaml:"level" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format         string   `yaml:"format" json:"format,omitempty" jsonschema:"enum=text,enum=json"`
	AddSource      bool     `yaml:"add_source" json:"add_source,omitempty"`
	RedactPatterns []string `yaml:"redact_patterns" json:"redact_patterns,omitempty"`
}

// ObservabilityConfig configures tracing and metrics.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled        bool              `yaml:"enabled" json:"enabled,omitempty"`
	Endpoint       string            `yaml:"endpoint" json:"endpoint,omitempty"`
	ServiceName    string            `yaml:"service_name" json:"service_name,omitempty"`
	ServiceVersion string            `yaml:"service_version" json:"service_version,omitempty"`
	Environment    string            `yaml:"environment" json:"environment,omitempty"`
	SamplingRate   float64           `yaml:"sampling_rate" json:"sampling_rate,omitempty"`
	Insecure       bool              `yaml:"insecure" json:"insecure,omitempty"`
	Attributes     map[string]string `yaml:"attributes" json:"attributes,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled,omitempty"`
	Addr    string `yaml:"addr" json:"addr,omitempty"`
}

// ValidationError collects every problem found in a config.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return ""
	}
	return "invalid config: " + strings.Join(e.Issues, "; ")
}

// Load reads, defaults and validates the config at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with only defaults set.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// ResolvePath picks the config path: the explicit flag value, then
// $HULUNOTE_CONFIG, then hulunote.yaml.
func ResolvePath(flag string) string {
	if strings.TrimSpace(flag) != "" {
		return flag
	}
	if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
		return env
	}
	return DefaultPath
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}

	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = DefaultProvider
	}
	if cfg.LLM.Temperature == nil {
		t := float32(DefaultTemperature)
		cfg.LLM.Temperature = &t
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = DefaultMaxTokens
	}
	if cfg.LLM.Provider == "ollama" && cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = DefaultOllamaBaseURL
	}

	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = DefaultMaxIterations
	}
	if cfg.Agent.Compaction.TokenThreshold == 0 {
		cfg.Agent.Compaction.TokenThreshold = DefaultTokenThreshold
	}
	if cfg.Agent.Compaction.SummaryMaxTokens == 0 {
		cfg.Agent.Compaction.SummaryMaxTokens = DefaultSummaryMaxTokens
	}
	for i := range cfg.Agent.SubAgents {
		if cfg.Agent.SubAgents[i].MaxIterations == 0 {
			cfg.Agent.SubAgents[i].MaxIterations = subagent.DefaultMaxIterations
		}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "hulunote"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1
	}
	if cfg.Observability.Metrics.Addr == "" {
		cfg.Observability.Metrics.Addr = ":9090"
	}
}

// Validate reports every problem in the config as a *ValidationError.
func (c *Config) Validate() error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if err := ValidateVersion(c.Version); err != nil {
		add("%v", err)
	}

	if !slices.Contains(Providers, c.LLM.Provider) {
		add("llm.provider %q is not one of %s", c.LLM.Provider, strings.Join(Providers, ", "))
	}
	if c.LLM.MaxTokens < 0 {
		add("llm.max_tokens must be >= 0")
	}
	if t := c.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		add("llm.temperature must be between 0 and 2")
	}
	if c.LLM.MaxRetries < 0 {
		add("llm.max_retries must be >= 0")
	}

	if c.Agent.MaxIterations < 0 {
		add("agent.max_iterations must be >= 0")
	}
	if c.Agent.ToolTimeout < 0 {
		add("agent.tool_timeout must be >= 0")
	}
	if c.Agent.Compaction.TokenThreshold < 0 {
		add("agent.compaction.token_threshold must be >= 0")
	}
	if c.Agent.Compaction.SummaryMaxTokens < 0 {
		add("agent.compaction.summary_max_tokens must be >= 0")
	}
	if err := c.Agent.ResultGuard.Validate(); err != nil {
		add("agent.result_guard: %v", err)
	}

	seen := make(map[string]bool, len(c.Agent.SubAgents))
	for i, spec := range c.Agent.SubAgents {
		name := strings.TrimSpace(spec.Name)
		switch {
		case name == "":
			add("agent.sub_agents[%d]: name is required", i)
		case seen[name]:
			add("agent.sub_agents[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
		if spec.MaxIterations < 0 {
			add("agent.sub_agents[%d]: max_iterations must be >= 0", i)
		}
	}

	ids := make(map[string]bool, len(c.MCP.Servers))
	for i, server := range c.MCP.Servers {
		if server == nil {
			add("mcp.servers[%d]: empty entry", i)
			continue
		}
		if err := server.Validate(); err != nil {
			add("mcp.servers[%d]: %v", i, err)
		}
		if server.ID != "" && ids[server.ID] {
			add("mcp.servers[%d]: duplicate id %q", i, server.ID)
		}
		ids[server.ID] = true
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		add("logging.format %q must be text or json", c.Logging.Format)
	}
	if r := c.Observability.Tracing.SamplingRate; r < 0 || r > 1 {
		add("observability.tracing.sampling_rate must be between 0 and 1")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// SubAgentNames returns the configured sub-agent names in order.
func (c *Config) SubAgentNames() []string {
	names := make([]string, 0, len(c.Agent.SubAgents))
	for _, spec := range c.Agent.SubAgents {
		names = append(names, spec.Name)
	}
	return names
}
