package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hulunote/hulunote/internal/mcp"
	"github.com/hulunote/hulunote/internal/tools/subagent"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	return writeNamed(t, t.TempDir(), "hulunote.yaml", contents)
}

func writeNamed(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func subAgent(name string) subagent.AgentSpec {
	return subagent.AgentSpec{Name: name}
}

func mcpServer(id string) *mcp.ServerConfig {
	return &mcp.ServerConfig{ID: id, Command: "notes-server"}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  api_key: sk-test
agent:
  sub_agents:
    - name: researcher
      shared_state_keys: [findings]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Version != CurrentVersion || cfg.LLM.Provider != "openrouter" || cfg.LLM.MaxTokens != 4000 {
		t.Errorf("llm defaults = %+v (version %d)", cfg.LLM, cfg.Version)
	}
	if cfg.LLM.Temperature == nil || *cfg.LLM.Temperature != 0.7 {
		t.Errorf("temperature = %v", cfg.LLM.Temperature)
	}
	if cfg.Agent.MaxIterations != 20 || cfg.Agent.Compaction.TokenThreshold != 80000 || cfg.Agent.Compaction.SummaryMaxTokens != 2000 {
		t.Errorf("agent defaults = %+v", cfg.Agent)
	}
	if got := cfg.Agent.SubAgents[0]; got.MaxIterations != 10 || got.SharedStateKeys[0] != "findings" {
		t.Errorf("sub-agent = %+v", got)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if names := cfg.SubAgentNames(); len(names) != 1 || names[0] != "researcher" {
		t.Errorf("SubAgentNames() = %v", names)
	}
}

func TestLoadOllamaBaseURL(t *testing.T) {
	cfg, err := Load(writeConfig(t, "llm:\n  provider: Ollama\n  model: llama3.1\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Provider != "ollama" || cfg.LLM.BaseURL != DefaultOllamaBaseURL {
		t.Errorf("llm = %+v", cfg.LLM)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
agent:
  max_iterations: 5
  extra: true
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadJSON5(t *testing.T) {
	dir := t.TempDir()
	path := writeNamed(t, dir, "hulunote.json5", `{
  // durations are strings in every format
  "llm": {"provider": "anthropic", "model": "claude-sonnet-4-5"},
  "agent": {"tool_timeout": "30s", "max_iterations": 7},
  "mcp": {"servers": [{"id": "notes", "url": "http://localhost:8080/mcp", "timeout": "5s"}]}
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Provider != "anthropic" || cfg.Agent.MaxIterations != 7 || cfg.Agent.ToolTimeout != 30*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.MCP.Servers) != 1 || cfg.MCP.Servers[0].Timeout != 5*time.Second {
		t.Errorf("servers = %+v", cfg.MCP.Servers)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("HULUNOTE_TEST_KEY", "sk-from-env")
	cfg, err := Load(writeConfig(t, "llm:\n  api_key: ${HULUNOTE_TEST_KEY}\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q", cfg.LLM.APIKey)
	}
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	base := writeNamed(t, dir, "base.yaml", `
llm:
  provider: openai
  model: gpt-4o
agent:
  max_iterations: 3
`)
	agents := writeNamed(t, dir, "agents.json", `{"agent": {"sub_agents": [{"name": "writer"}]}}`)
	path := writeNamed(t, dir, "hulunote.yaml", `
$include: [base.yaml, agents.json]
llm:
  model: gpt-4o-mini
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.Agent.MaxIterations != 3 || len(cfg.Agent.SubAgents) != 1 || cfg.Agent.SubAgents[0].Name != "writer" {
		t.Errorf("agent = %+v", cfg.Agent)
	}

	sources, err := Sources(path)
	if err != nil {
		t.Fatalf("Sources() error = %v", err)
	}
	want := []string{path, base, agents}
	if len(sources) != len(want) {
		t.Fatalf("Sources() = %v", sources)
	}
	for i := range want {
		if sources[i] != want[i] {
			t.Errorf("Sources()[%d] = %q, want %q", i, sources[i], want[i])
		}
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeNamed(t, dir, "a.yaml", "include: b.yaml\n")
	writeNamed(t, dir, "b.yaml", "include: a.yaml\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected include cycle error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	negative := float32(-1)
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{
			name:   "unknown provider",
			mutate: func(c *Config) { c.LLM.Provider = "gemini" },
			want:   "llm.provider",
		},
		{
			name:   "negative temperature",
			mutate: func(c *Config) { c.LLM.Temperature = &negative },
			want:   "llm.temperature",
		},
		{
			name:   "negative iterations",
			mutate: func(c *Config) { c.Agent.MaxIterations = -1 },
			want:   "agent.max_iterations",
		},
		{
			name:   "negative threshold",
			mutate: func(c *Config) { c.Agent.Compaction.TokenThreshold = -5 },
			want:   "token_threshold",
		},
		{
			name: "duplicate sub-agent",
			mutate: func(c *Config) {
				c.Agent.SubAgents = append(c.Agent.SubAgents, subAgent("a"), subAgent("a"))
			},
			want: `duplicate name "a"`,
		},
		{
			name:   "empty sub-agent name",
			mutate: func(c *Config) { c.Agent.SubAgents = append(c.Agent.SubAgents, subAgent(" ")) },
			want:   "name is required",
		},
		{
			name:   "bad result guard",
			mutate: func(c *Config) { c.Agent.ResultGuard.RedactPatterns = []string{"("} },
			want:   "agent.result_guard",
		},
		{
			name:   "invalid mcp server",
			mutate: func(c *Config) { c.MCP.Servers = append(c.MCP.Servers, mcpServer("bad__id")) },
			want:   "mcp.servers[0]",
		},
		{
			name: "duplicate mcp server",
			mutate: func(c *Config) {
				c.MCP.Servers = append(c.MCP.Servers, mcpServer("notes"), mcpServer("notes"))
			},
			want: `duplicate id "notes"`,
		},
		{
			name:   "newer version",
			mutate: func(c *Config) { c.Version = CurrentVersion + 1 },
			want:   "newer than this build",
		},
		{
			name:   "log format",
			mutate: func(c *Config) { c.Logging.Format = "xml" },
			want:   "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate() = %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestValidateCollectsAllIssues(t *testing.T) {
	cfg := Default()
	cfg.LLM.Provider = "nope"
	cfg.Agent.MaxIterations = -1
	cfg.Agent.SubAgents = append(cfg.Agent.SubAgents, subAgent(""))

	var verr *ValidationError
	if err := cfg.Validate(); !errors.As(err, &verr) || len(verr.Issues) != 3 {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	if got := ResolvePath(""); got != DefaultPath {
		t.Errorf("ResolvePath(\"\") = %q", got)
	}
	t.Setenv(EnvConfigPath, "/etc/hulunote.yaml")
	if got := ResolvePath(""); got != "/etc/hulunote.yaml" {
		t.Errorf("env path = %q", got)
	}
	if got := ResolvePath("local.json5"); got != "local.json5" {
		t.Errorf("flag path = %q", got)
	}
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	if schema["$id"] != SchemaID {
		t.Errorf("$id = %v", schema["$id"])
	}
	for _, field := range []string{`"sub_agents"`, `"shared_state_keys"`, `"servers"`, `"token_threshold"`, `"openrouter"`} {
		if !strings.Contains(string(data), field) {
			t.Errorf("schema missing %s", field)
		}
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := writeConfig(t, "agent:\n  max_iterations: 1\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(cfg *Config) { changes <- cfg }, WatchOptions{Debounce: 20 * time.Millisecond})
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-changes:
			if cfg.Agent.MaxIterations != 9 {
				t.Fatalf("reloaded max_iterations = %d", cfg.Agent.MaxIterations)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Watch() error = %v", err)
			}
			return
		case <-tick.C:
			// Rewrite until the watcher is registered and reports the change.
			if err := os.WriteFile(path, []byte("agent:\n  max_iterations: 9\n"), 0o600); err != nil {
				t.Fatal(err)
			}
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}
