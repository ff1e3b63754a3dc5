package providers

import (
	"net/http"
	"time"
)

// OpenRouter defaults.
const (
	OpenRouterBaseURL      = "https://openrouter.ai/api/v1"
	DefaultOpenRouterModel = "anthropic/claude-3.5-sonnet"
	DefaultSiteURL         = "https://github.com/hulunote/hulunote"
	DefaultAppName         = "Hulunote MCP Chat"
)

// OpenRouterConfig holds configuration for the OpenRouter client.
// OpenRouter provides a unified, OpenAI-compatible interface to models from
// many vendors; model IDs use the form provider/model-name.
type OpenRouterConfig struct {
	// APIKey is the OpenRouter API key (required)
	APIKey string

	// BaseURL overrides the endpoint (default https://openrouter.ai/api/v1).
	BaseURL string

	// DefaultModel is the model to use when not specified in request (optional)
	DefaultModel string

	// AppName is sent as X-Title and shown in the OpenRouter dashboard.
	AppName string

	// SiteURL is sent as HTTP-Referer.
	SiteURL string

	Temperature *float32
	MaxTokens   int

	MaxRetries int
	RetryDelay time.Duration

	HTTPClient *http.Client
}

// NewOpenRouterClient creates an OpenAI-compatible client pointed at
// OpenRouter, with app identification headers set.
//
// Example:
//
//	client, err := NewOpenRouterClient(OpenRouterConfig{
//	    APIKey:       os.Getenv("OPENROUTER_API_KEY"),
//	    DefaultModel: "openai/gpt-4o",
//	})
func NewOpenRouterClient(cfg OpenRouterConfig) (*OpenAIClient, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OpenRouterBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultOpenRouterModel
	}
	if cfg.AppName == "" {
		cfg.AppName = DefaultAppName
	}
	if cfg.SiteURL == "" {
		cfg.SiteURL = DefaultSiteURL
	}

	return NewOpenAIClient(OpenAIConfig{
		Provider:     "openrouter",
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		DefaultModel: cfg.DefaultModel,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
		Headers: map[string]string{
			"HTTP-Referer": cfg.SiteURL,
			"X-Title":      cfg.AppName,
		},
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		HTTPClient: cfg.HTTPClient,
	})
}
