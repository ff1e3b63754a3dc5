package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/hulunote/hulunote/internal/agent"
	"github.com/hulunote/hulunote/pkg/models"
)

// Request defaults applied when neither the request nor the config sets them.
const (
	DefaultTemperature float32 = 0.7
	DefaultMaxTokens           = 4000
)

// OpenAIConfig configures an OpenAI-compatible chat completions client.
type OpenAIConfig struct {
	// Provider names the backend in errors and metrics (default "openai").
	Provider string

	// APIKey is required.
	APIKey string

	// BaseURL overrides the API endpoint, e.g. for OpenRouter or a proxy.
	BaseURL string

	// DefaultModel is used when a request carries no model.
	DefaultModel string

	// Temperature is the sampling temperature (default 0.7).
	Temperature *float32

	// MaxTokens caps reply length when the request doesn't (default 4000).
	MaxTokens int

	// Headers are added to every HTTP request.
	Headers map[string]string

	// MaxRetries is the maximum retry attempts for transient failures (default: 3)
	MaxRetries int

	// RetryDelay is the base delay between retries (default: 1s)
	RetryDelay time.Duration

	// HTTPClient overrides the transport. Headers still apply.
	HTTPClient *http.Client
}

// OpenAIClient implements agent.ModelClient against any OpenAI-compatible
// chat completions endpoint. Requests are non-streaming.
//
// Thread Safety:
// OpenAIClient is safe for concurrent use across multiple goroutines.
type OpenAIClient struct {
	client       *openai.Client
	provider     string
	defaultModel string
	temperature  float32
	maxTokens    int
	base         BaseProvider
}

// NewOpenAIClient creates a client. An empty API key is an error.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: API key is required", cfg.Provider)
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if len(cfg.Headers) > 0 {
		wrapped := *httpClient
		wrapped.Transport = &headerTransport{base: httpClient.Transport, headers: cfg.Headers}
		httpClient = &wrapped
	}
	clientConfig.HTTPClient = httpClient

	temperature := DefaultTemperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	return &OpenAIClient{
		client:       openai.NewClientWithConfig(clientConfig),
		provider:     cfg.Provider,
		defaultModel: cfg.DefaultModel,
		temperature:  temperature,
		maxTokens:    maxTokens,
		base:         NewBaseProvider(cfg.Provider, cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

// Name returns the provider identifier.
func (c *OpenAIClient) Name() string {
	return c.provider
}

// Send implements agent.ModelClient.
func (c *OpenAIClient) Send(ctx context.Context, req *agent.ChatRequest) (*agent.ChatResponse, error) {
	if req == nil {
		return nil, errors.New("nil chat request")
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(req.Messages),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		TopP:        1,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = *req.Temperature
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toOpenAITools(req.Tools)
		chatReq.ToolChoice = "auto"
	}

	var resp openai.ChatCompletionResponse
	err := c.base.Retry(ctx, IsRetryable, func() error {
		var err error
		resp, err = c.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return c.wrapError(err, model)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, NewProviderError(c.provider, model, errors.New("response contained no choices")).
			WithRequestID(resp.ID)
	}

	choice := resp.Choices[0]
	raw, _ := json.Marshal(resp)
	return &agent.ChatResponse{
		Message:      fromOpenAIMessage(choice.Message),
		FinishReason: string(choice.FinishReason),
		Usage: agent.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
		Model: resp.Model,
		Raw:   raw,
	}, nil
}

// ListModels returns the model identifiers the endpoint advertises.
func (c *OpenAIClient) ListModels(ctx context.Context) ([]string, error) {
	list, err := c.client.ListModels(ctx)
	if err != nil {
		return nil, c.wrapError(err, "")
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func toOpenAIMessages(messages []models.Message) []openai.ChatCompletionMessage {
	messages = dropOrphanedResults(messages)
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		switch msg.Role {
		case models.RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					oaiMsg.ToolCalls[i] = openai.ToolCall{
						ID:   tc.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      tc.Name,
							Arguments: tc.Arguments,
						},
					}
				}
			}
		case models.RoleTool:
			oaiMsg.ToolCallID = msg.ToolCallID
		}
		result = append(result, oaiMsg)
	}
	return result
}

func toOpenAITools(tools []agent.ToolSpec) []openai.Tool {
	result := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = agent.EmptyObjectSchema
		}
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return result
}

func fromOpenAIMessage(msg openai.ChatCompletionMessage) models.Message {
	out := models.Message{
		Role:    models.RoleAssistant,
		Content: msg.Content,
	}
	for _, tc := range msg.ToolCalls {
		id := tc.ID
		if id == "" {
			id = NewToolCallID()
		}
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out
}

// NewToolCallID returns a synthetic id for a tool call the provider left
// unnamed.
func NewToolCallID() string {
	return "call_" + uuid.NewString()
}

func (c *OpenAIClient) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	perr := NewProviderError(c.provider, model, err)

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode != 0 {
			perr.WithStatus(apiErr.HTTPStatusCode)
		}
		if code, ok := apiErr.Code.(string); ok && code != "" {
			perr.WithCode(code)
		}
		perr.WithMessage(apiErr.Message)
		return perr
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		perr.WithStatus(reqErr.HTTPStatusCode)
	}
	return perr
}

// headerTransport adds fixed headers to each outgoing request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	clone := req.Clone(req.Context())
	for k, v := range t.headers {
		if v != "" {
			clone.Header.Set(k, v)
		}
	}
	return base.RoundTrip(clone)
}
