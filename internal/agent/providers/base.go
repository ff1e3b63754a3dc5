package providers

import (
	"context"
	"log/slog"
	"time"

	"github.com/hulunote/hulunote/internal/backoff"
)

// BaseProvider holds retry settings shared by model clients.
type BaseProvider struct {
	name       string
	maxRetries int
	policy     backoff.Policy
	logger     *slog.Logger
}

// NewBaseProvider creates a base with defaults of 3 attempts and a 1s first
// delay. Later delays double, capped at 30 times the first.
func NewBaseProvider(name string, maxRetries int, retryDelay time.Duration) BaseProvider {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return BaseProvider{
		name:       name,
		maxRetries: maxRetries,
		policy: backoff.Policy{
			Initial: retryDelay,
			Max:     30 * retryDelay,
			Factor:  2,
			Jitter:  0.1,
		},
		logger: slog.Default().With("component", "provider", "provider", name),
	}
}

// Retry runs op up to maxRetries times with exponential backoff between
// attempts, while isRetryable accepts the error.
func (b *BaseProvider) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	if op == nil {
		return nil
	}
	if isRetryable == nil {
		isRetryable = func(error) bool { return false }
	}
	r := backoff.Retrier{
		Policy:      b.policy,
		MaxAttempts: b.maxRetries,
		Retryable:   isRetryable,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			b.logger.WarnContext(ctx, "retrying model request", "attempt", attempt, "wait", wait, "error", err)
		},
	}
	return r.Do(ctx, func(int) error { return op() })
}
