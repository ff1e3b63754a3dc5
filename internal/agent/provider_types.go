package agent

import (
	"context"
	"encoding/json"

	"github.com/hulunote/hulunote/pkg/models"
)

// ModelClient is the model-request capability consumed by the Runner.
//
// Implementations send one chat request and return the model's reply. When
// the request carries tools the reply may include tool calls. Implementations
// must be safe for concurrent use: delegated sub-runs share the client.
type ModelClient interface {
	Send(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// ModelClientFunc adapts a function to the ModelClient interface.
type ModelClientFunc func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

// Send calls f.
func (f ModelClientFunc) Send(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return f(ctx, req)
}

// ChatRequest is one request to the model.
type ChatRequest struct {
	// Model is the model identifier, e.g. "anthropic/claude-3.5-sonnet".
	Model string

	// Messages is the full transcript, system message first when present.
	Messages []models.Message

	// Tools is omitted from the wire request when empty.
	Tools []ToolSpec

	// MaxTokens caps the reply length. Zero means the client default.
	MaxTokens int

	// Temperature overrides the client default when set.
	Temperature *float32
}

// ChatResponse is the model's reply.
type ChatResponse struct {
	// Message is the assistant reply.
	Message models.Message `json:"message"`

	// FinishReason is the provider's stop reason, e.g. "stop" or "tool_calls".
	FinishReason string `json:"finish_reason,omitempty"`

	// Usage reports token consumption when the provider returns it.
	Usage Usage `json:"usage"`

	// Model is the model that produced the reply.
	Model string `json:"model,omitempty"`

	// Raw is the undecoded provider payload.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Usage reports token consumption for one model request.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToolSpec is the model-facing description of a callable tool.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolProvider is the external tool-provider capability. Tools it publishes
// are addressed as "<providerID>__<toolName>".
//
// Implementations must be safe for concurrent use by multiple runs.
type ToolProvider interface {
	// ListProviders returns the identifiers of the reachable providers.
	ListProviders(ctx context.Context) []string

	// ListTools returns the tools one provider publishes.
	ListTools(ctx context.Context, providerID string) ([]ToolSpec, error)

	// Invoke calls a tool and returns its serializable result.
	Invoke(ctx context.Context, providerID, toolName string, args map[string]any) (any, error)
}

// EmptyObjectSchema is the parameter schema used for tools that declare none.
var EmptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)
