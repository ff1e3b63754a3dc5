package mcp

import (
	"strings"
	"testing"
)

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr string
	}{
		{"stdio ok", ServerConfig{ID: "fs", Command: "npx", Args: []string{"-y", "@modelcontextprotocol/server-filesystem", "/tmp"}}, ""},
		{"http ok", ServerConfig{ID: "web", Transport: TransportHTTP, URL: "https://mcp.example.com/mcp"}, ""},
		{"inferred http", ServerConfig{ID: "web", URL: "http://localhost:8080/mcp"}, ""},
		{"missing id", ServerConfig{Command: "npx"}, "server ID is required"},
		{"separator in id", ServerConfig{ID: "a__b", Command: "npx"}, "must not contain"},
		{"missing command", ServerConfig{ID: "fs", Transport: TransportStdio}, "command is required"},
		{"traversal", ServerConfig{ID: "fs", Command: "../../bin/sh"}, "path traversal"},
		{"workdir traversal", ServerConfig{ID: "fs", Command: "node", WorkDir: "../etc"}, "path traversal"},
		{"shell chaining", ServerConfig{ID: "fs", Command: "node", Args: []string{"server.js; rm -rf /"}}, "metacharacters"},
		{"bad scheme", ServerConfig{ID: "web", Transport: TransportHTTP, URL: "ftp://x"}, "http:// or https://"},
		{"missing url", ServerConfig{ID: "web", Transport: TransportHTTP}, "URL is required"},
		{"unknown transport", ServerConfig{ID: "x", Transport: "carrier-pigeon"}, "unknown transport"},
		{"negative timeout", ServerConfig{ID: "fs", Command: "node", Timeout: -1}, "negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestServerConfigEnviron(t *testing.T) {
	cfg := ServerConfig{Env: map[string]string{"TOKEN": "abc"}}
	env := cfg.environ()
	if len(env) != 1 || env[0] != "TOKEN=abc" {
		t.Errorf("environ() = %v", env)
	}
	if (&ServerConfig{}).environ() != nil {
		t.Error("empty env should render nil")
	}
}
