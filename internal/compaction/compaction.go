package compaction

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/hulunote/hulunote/internal/agent"
	"github.com/hulunote/hulunote/pkg/models"
)

const (
	// DefaultTokenThreshold is the estimate above which compaction runs.
	DefaultTokenThreshold = 80000

	// DefaultSummaryMaxTokens caps the summary reply.
	DefaultSummaryMaxTokens = 2000

	// SummaryPrefix marks the synthetic message that replaces the older prefix.
	SummaryPrefix = "[Conversation summary so far]\n"

	// SummaryInstruction is the system prompt of the summarization request.
	SummaryInstruction = "You are a summarizer. Produce a concise summary of the following conversation, " +
		"preserving key facts, decisions, tool results, and context needed for ongoing work. Output only the summary."
)

// Config configures the compaction stage.
type Config struct {
	// Client sends the summarization request. Required.
	Client agent.ModelClient

	// Model is used for the summarization request.
	Model string

	// TokenThreshold triggers compaction when exceeded (default 80000).
	TokenThreshold int

	// SummaryMaxTokens caps the summary length (default 2000).
	SummaryMaxTokens int

	// OnCompact, when set, is called after a successful compaction with the
	// message counts before and after.
	OnCompact func(ctx context.Context, before, after int)

	Logger *slog.Logger
}

// Stage is the context-compaction pipeline stage.
type Stage struct {
	config Config
	logger *slog.Logger
}

// New creates the compaction stage.
func New(config Config) *Stage {
	if config.TokenThreshold <= 0 {
		config.TokenThreshold = DefaultTokenThreshold
	}
	if config.SummaryMaxTokens <= 0 {
		config.SummaryMaxTokens = DefaultSummaryMaxTokens
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{config: config, logger: logger.With("component", "compaction")}
}

// Name implements agent.Middleware.
func (s *Stage) Name() string {
	return "compaction"
}

// BeforeModelCall implements agent.MessagePreprocessor. Any summarization
// fault falls back to the unmodified transcript; it never returns an error.
func (s *Stage) BeforeModelCall(ctx context.Context, messages []models.Message, state *agent.State) ([]models.Message, error) {
	estimate := EstimateTokens(messages)
	if estimate <= s.config.TokenThreshold {
		return messages, nil
	}

	older, recent := Split(messages)
	if len(older) == 0 {
		return messages, nil
	}

	s.logger.Info("token estimate exceeds threshold, summarizing",
		"estimate", estimate,
		"threshold", s.config.TokenThreshold,
		"summarized", len(older),
		"kept", len(recent),
	)

	summary, err := s.summarize(ctx, older)
	if err != nil {
		s.logger.Warn("summarization failed, using original messages", "error", err)
		return messages, nil
	}

	compacted := make([]models.Message, 0, len(recent)+1)
	compacted = append(compacted, models.NewUserMessage(SummaryPrefix+summary))
	compacted = append(compacted, recent...)

	s.logger.Info("compacted transcript", "before", len(messages), "after", len(compacted))
	if s.config.OnCompact != nil {
		s.config.OnCompact(ctx, len(messages), len(compacted))
	}
	return compacted, nil
}

func (s *Stage) summarize(ctx context.Context, older []models.Message) (string, error) {
	if s.config.Client == nil {
		return "", agent.ErrNoClient
	}

	req := &agent.ChatRequest{
		Model:     s.config.Model,
		Messages:  make([]models.Message, 0, len(older)+1),
		MaxTokens: s.config.SummaryMaxTokens,
	}
	req.Messages = append(req.Messages, models.NewSystemMessage(SummaryInstruction))
	req.Messages = append(req.Messages, older...)

	resp, err := s.config.Client.Send(ctx, req)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", errors.New("empty summarization response")
	}
	summary := strings.TrimSpace(resp.Message.Content)
	if summary == "" {
		return "", errors.New("summarization returned no text")
	}
	return summary, nil
}
