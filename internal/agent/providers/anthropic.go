package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hulunote/hulunote/internal/agent"
	"github.com/hulunote/hulunote/pkg/models"
)

// DefaultAnthropicModel is used when neither the request nor the config names a model.
const DefaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicConfig configures the Anthropic Messages client.
type AnthropicConfig struct {
	// APIKey is required. Obtain from https://console.anthropic.com/
	APIKey string

	// BaseURL overrides the API endpoint.
	BaseURL string

	DefaultModel string
	Temperature  *float32
	MaxTokens    int

	MaxRetries int
	RetryDelay time.Duration

	HTTPClient *http.Client
}

// AnthropicClient implements agent.ModelClient on the Anthropic Messages API.
//
// The transcript is translated as follows: system messages become the
// request's system prompt, assistant tool calls become tool_use blocks, and
// each run of consecutive tool messages becomes one user message of
// tool_result blocks.
type AnthropicClient struct {
	client       anthropic.Client
	defaultModel string
	temperature  float32
	maxTokens    int
	base         BaseProvider
}

// NewAnthropicClient creates a client. An empty API key is an error.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultAnthropicModel
	}

	options := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retries are handled by BaseProvider so they are classified uniformly.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		options = append(options, option.WithHTTPClient(cfg.HTTPClient))
	}

	temperature := DefaultTemperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	return &AnthropicClient{
		client:       anthropic.NewClient(options...),
		defaultModel: cfg.DefaultModel,
		temperature:  temperature,
		maxTokens:    maxTokens,
		base:         NewBaseProvider("anthropic", cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

// Name returns the provider identifier.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// Send implements agent.ModelClient.
func (c *AnthropicClient) Send(ctx context.Context, req *agent.ChatRequest) (*agent.ChatResponse, error) {
	if req == nil {
		return nil, errors.New("nil chat request")
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	system, messages := toAnthropicMessages(req.Messages)
	if len(messages) == 0 {
		return nil, NewProviderError("anthropic", model, errors.New("request has no user or assistant messages")).
			WithStatus(http.StatusBadRequest)
	}

	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	temperature := c.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		Messages:    messages,
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(float64(temperature)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if len(req.Tools) > 0 {
		tools, err := toAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: %w", err)
		}
		params.Tools = tools
	}

	var msg *anthropic.Message
	err := c.base.Retry(ctx, IsRetryable, func() error {
		var err error
		msg, err = c.client.Messages.New(ctx, params)
		if err != nil {
			return c.wrapError(err, model)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &agent.ChatResponse{
		Message:      fromAnthropicMessage(msg),
		FinishReason: string(msg.StopReason),
		Usage: agent.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
		Model: string(msg.Model),
		Raw:   json.RawMessage(msg.RawJSON()),
	}, nil
}

func toAnthropicMessages(messages []models.Message) (string, []anthropic.MessageParam) {
	var (
		system  []string
		result  []anthropic.MessageParam
		results []anthropic.ContentBlockParamUnion
	)

	flushResults := func() {
		if len(results) > 0 {
			result = append(result, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, msg := range dropOrphanedResults(messages) {
		switch msg.Role {
		case models.RoleSystem:
			if msg.Content != "" {
				system = append(system, msg.Content)
			}
		case models.RoleTool:
			results = append(results, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, isErrorContent(msg.Content)))
		case models.RoleAssistant:
			flushResults()
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, toolInput(tc.Arguments), tc.Name))
			}
			if len(blocks) > 0 {
				result = append(result, anthropic.NewAssistantMessage(blocks...))
			}
		default:
			flushResults()
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	flushResults()

	return strings.Join(system, "\n\n"), result
}

// toolInput returns the call's arguments as a JSON value. Text that is not a
// JSON object is sent as an empty object.
func toolInput(arguments string) any {
	raw := json.RawMessage(strings.TrimSpace(arguments))
	if len(raw) == 0 || !json.Valid(raw) || raw[0] != '{' {
		return map[string]any{}
	}
	return raw
}

// isErrorContent reports whether a tool result is the {"error": ...} payload.
func isErrorContent(content string) bool {
	if !strings.HasPrefix(strings.TrimSpace(content), `{"error"`) {
		return false
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return false
	}
	_, ok := payload["error"]
	return ok && len(payload) == 1
}

func toAnthropicTools(tools []agent.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = agent.EmptyObjectSchema
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(params, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", t.Name)
		}
		if t.Description != "" {
			param.OfTool.Description = anthropic.String(t.Description)
		}
		result = append(result, param)
	}
	return result, nil
}

func fromAnthropicMessage(msg *anthropic.Message) models.Message {
	out := models.Message{Role: models.RoleAssistant}
	var text []string
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text = append(text, block.Text)
		case "tool_use":
			id := block.ID
			if id == "" {
				id = NewToolCallID()
			}
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}
			out.ToolCalls = append(out.ToolCalls, models.ToolCall{ID: id, Name: block.Name, Arguments: args})
		}
	}
	out.Content = strings.Join(text, "")
	return out
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (c *AnthropicClient) wrapError(err error, model string) error {
	if err == nil || IsProviderError(err) {
		return err
	}

	providerErr := NewProviderError("anthropic", model, err)

	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return providerErr
	}

	providerErr.WithStatus(apiErr.StatusCode).WithRequestID(apiErr.RequestID)
	if raw := apiErr.RawJSON(); raw != "" {
		var payload anthropicErrorPayload
		if json.Unmarshal([]byte(raw), &payload) == nil {
			providerErr.WithMessage(payload.Error.Message)
			if payload.Error.Type != "" {
				providerErr.WithCode(payload.Error.Type)
			}
			if payload.RequestID != "" {
				providerErr.WithRequestID(payload.RequestID)
			}
		}
	}
	return providerErr
}
