// Package mcp connects the agent to Model Context Protocol servers. It
// provides the external tool-provider capability used by the runner, the
// tool-discovery stage that republishes provider tools under namespaced
// names, and an MCP server surface that exposes the agent itself as a tool.
package mcp

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// TransportType specifies the MCP transport protocol.
type TransportType string

const (
	TransportStdio TransportType = "stdio"
	TransportHTTP  TransportType = "http"
)

// ClientName and ClientVersion identify this client during initialization.
const (
	ClientName    = "hulunote-mcp-client"
	ClientVersion = "1.0.0"
)

// ServerConfig holds configuration for an MCP server.
type ServerConfig struct {
	// ID names the server. It is the provider identifier in namespaced tool
	// names, so it must not contain the "__" separator.
	ID        string        `yaml:"id" json:"id"`
	Name      string        `yaml:"name,omitempty" json:"name,omitempty"`
	Transport TransportType `yaml:"transport,omitempty" json:"transport,omitempty" jsonschema:"enum=stdio,enum=http"`

	// Stdio transport options
	Command string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	WorkDir string            `yaml:"workdir,omitempty" json:"workdir,omitempty"`

	// HTTP transport options
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// Timeout bounds each request to the server. Zero means no limit.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Disabled servers are kept in configuration but never connected.
	Disabled bool `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// TransportKind returns the configured transport, inferring it from the
// populated fields when unset.
func (c *ServerConfig) TransportKind() TransportType {
	if c.Transport != "" {
		return c.Transport
	}
	if c.URL != "" && c.Command == "" {
		return TransportHTTP
	}
	return TransportStdio
}

// Validate checks the server configuration for security issues.
func (c *ServerConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("server ID is required")
	}
	if strings.Contains(c.ID, "__") {
		return fmt.Errorf("server ID %q must not contain \"__\"", c.ID)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout for %s must not be negative", c.ID)
	}

	switch c.TransportKind() {
	case TransportStdio:
		if err := c.validateStdioConfig(); err != nil {
			return fmt.Errorf("stdio config for %s: %w", c.ID, err)
		}
	case TransportHTTP:
		if err := c.validateHTTPConfig(); err != nil {
			return fmt.Errorf("http config for %s: %w", c.ID, err)
		}
	default:
		return fmt.Errorf("unknown transport %q for %s", c.Transport, c.ID)
	}
	return nil
}

func (c *ServerConfig) validateStdioConfig() error {
	if c.Command == "" {
		return fmt.Errorf("command is required")
	}
	if err := validatePath(c.Command, "command"); err != nil {
		return err
	}
	if c.WorkDir != "" {
		if err := validatePath(c.WorkDir, "workdir"); err != nil {
			return err
		}
	}
	for i, arg := range c.Args {
		if containsShellMetachars(arg) {
			return fmt.Errorf("arg[%d] contains suspicious shell metacharacters: %q", i, arg)
		}
	}
	return nil
}

func (c *ServerConfig) validateHTTPConfig() error {
	if c.URL == "" {
		return fmt.Errorf("URL is required")
	}
	if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		return fmt.Errorf("URL must start with http:// or https://")
	}
	return nil
}

// environ renders Env as KEY=VALUE pairs appended to the process environment
// by the stdio transport.
func (c *ServerConfig) environ() []string {
	if len(c.Env) == 0 {
		return nil
	}
	out := make([]string, 0, len(c.Env))
	for k, v := range c.Env {
		out = append(out, k+"="+v)
	}
	return out
}

func validatePath(path, fieldName string) error {
	if path == "" {
		return nil
	}
	cleaned := filepath.Clean(path)
	if strings.Contains(cleaned, "..") {
		return fmt.Errorf("%s contains path traversal: %q", fieldName, path)
	}
	return nil
}

// containsShellMetachars flags patterns that suggest command chaining.
// Spaces and quotes are common in legitimate args and are allowed.
func containsShellMetachars(s string) bool {
	for _, pattern := range []string{"$(", "${", "`", "&&", "||", ";", "|", ">", "<", "\n", "\r"} {
		if strings.Contains(s, pattern) {
			return true
		}
	}
	return false
}
