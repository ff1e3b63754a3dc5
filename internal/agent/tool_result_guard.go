package agent

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"
)

// ToolResultGuard controls how tool results are redacted before they reach
// the transcript.
type ToolResultGuard struct {
	// MaxChars truncates longer results (0 = unlimited).
	MaxChars int `yaml:"max_chars" json:"max_chars,omitempty"`

	// Denylist holds tool name globs whose results are replaced entirely.
	Denylist []string `yaml:"denylist" json:"denylist,omitempty"`

	// RedactPatterns are regular expressions replaced within results.
	RedactPatterns []string `yaml:"redact_patterns" json:"redact_patterns,omitempty"`

	RedactionText  string `yaml:"redaction_text" json:"redaction_text,omitempty"`
	TruncateSuffix string `yaml:"truncate_suffix" json:"truncate_suffix,omitempty"`
}

// Active reports whether the guard changes anything.
func (g ToolResultGuard) Active() bool {
	return g.MaxChars > 0 || len(g.Denylist) > 0 || len(g.RedactPatterns) > 0
}

// Validate checks the guard's patterns.
func (g ToolResultGuard) Validate() error {
	if g.MaxChars < 0 {
		return fmt.Errorf("max_chars must be >= 0")
	}
	for _, p := range g.Denylist {
		if _, err := path.Match(p, ""); err != nil {
			return fmt.Errorf("denylist pattern %q: %w", p, err)
		}
	}
	for _, p := range g.RedactPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("redact pattern %q: %w", p, err)
		}
	}
	return nil
}

// ResultGuardStage applies a ToolResultGuard to every tool result.
type ResultGuardStage struct {
	guard      ToolResultGuard
	patterns   []*regexp.Regexp
	redaction  string
	truncation string
	logger     *slog.Logger
}

// NewResultGuardStage compiles the guard. Invalid patterns are skipped with a
// warning.
func NewResultGuardStage(guard ToolResultGuard, logger *slog.Logger) *ResultGuardStage {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ResultGuardStage{
		guard:      guard,
		redaction:  strings.TrimSpace(guard.RedactionText),
		truncation: strings.TrimSpace(guard.TruncateSuffix),
		logger:     logger.With("component", "result_guard"),
	}
	if s.redaction == "" {
		s.redaction = "[redacted]"
	}
	if s.truncation == "" {
		s.truncation = "...[truncated]"
	}
	for _, p := range guard.RedactPatterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			s.logger.Warn("skipping invalid redact pattern", "pattern", p, "error", err)
			continue
		}
		s.patterns = append(s.patterns, re)
	}
	return s
}

// Name implements Middleware.
func (s *ResultGuardStage) Name() string {
	return "result_guard"
}

// AfterToolExecution implements ToolResultProcessor.
func (s *ResultGuardStage) AfterToolExecution(ctx context.Context, call ToolInvocation, content string, state *State) string {
	if s.denied(call.Name) {
		return s.redaction
	}
	for _, re := range s.patterns {
		content = re.ReplaceAllString(content, s.redaction)
	}
	if s.guard.MaxChars > 0 && len(content) > s.guard.MaxChars {
		content = content[:s.guard.MaxChars] + s.truncation
	}
	return content
}

func (s *ResultGuardStage) denied(name string) bool {
	for _, pattern := range s.guard.Denylist {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
