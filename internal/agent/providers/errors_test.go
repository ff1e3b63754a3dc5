package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestFailoverReasonIsRetryable(t *testing.T) {
	tests := []struct {
		reason   FailoverReason
		expected bool
	}{
		{FailoverRateLimit, true},
		{FailoverTimeout, true},
		{FailoverServerError, true},
		{FailoverBilling, false},
		{FailoverAuth, false},
		{FailoverInvalidRequest, false},
		{FailoverModelUnavailable, false},
		{FailoverContentFilter, false},
		{FailoverUnknown, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			if got := tt.reason.IsRetryable(); got != tt.expected {
				t.Errorf("FailoverReason(%q).IsRetryable() = %v, want %v", tt.reason, got, tt.expected)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want FailoverReason
	}{
		{nil, FailoverUnknown},
		{context.DeadlineExceeded, FailoverTimeout},
		{errors.New("request timeout"), FailoverTimeout},
		{errors.New("429 Too Many Requests"), FailoverRateLimit},
		{errors.New("invalid api key"), FailoverAuth},
		{errors.New("insufficient quota"), FailoverBilling},
		{errors.New("blocked by content policy"), FailoverContentFilter},
		{errors.New("model not found"), FailoverModelUnavailable},
		{errors.New("502 bad gateway"), FailoverServerError},
		{errors.New("something odd"), FailoverUnknown},
	}

	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.want {
			t.Errorf("ClassifyError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestProviderError(t *testing.T) {
	cause := errors.New("boom")
	err := NewProviderError("openrouter", "m1", cause).WithStatus(503).WithCode("x").WithRequestID("req-1")

	if err.Reason != FailoverServerError {
		t.Errorf("Reason = %q", err.Reason)
	}
	if !errors.Is(err, cause) {
		t.Error("ProviderError should unwrap to its cause")
	}
	msg := err.Error()
	for _, part := range []string{"[server_error]", "openrouter", "model=m1", "status=503", "code=x", "boom"} {
		if !strings.Contains(msg, part) {
			t.Errorf("Error() = %q, missing %q", msg, part)
		}
	}

	err.WithCode("rate_limit_error")
	if err.Reason != FailoverRateLimit {
		t.Errorf("known code should reclassify, got %q", err.Reason)
	}

	wrapped := fmt.Errorf("send: %w", err)
	if got, ok := GetProviderError(wrapped); !ok || got != err {
		t.Error("GetProviderError should find the wrapped error")
	}
	if !IsRetryable(wrapped) {
		t.Error("rate limited error should be retryable")
	}
	if IsRetryable(context.Canceled) {
		t.Error("cancellation must not be retried")
	}
}

func TestBaseProviderRetry(t *testing.T) {
	base := NewBaseProvider("test", 3, time.Millisecond)

	attempts := 0
	err := base.Retry(context.Background(), IsRetryable, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("503 service unavailable")
		}
		return nil
	})
	if err != nil || attempts != 3 {
		t.Errorf("Retry() = %v after %d attempts, want success after 3", err, attempts)
	}

	attempts = 0
	err = base.Retry(context.Background(), IsRetryable, func() error {
		attempts++
		return errors.New("invalid api key")
	})
	if err == nil || attempts != 1 {
		t.Errorf("non-retryable error retried: attempts=%d err=%v", attempts, err)
	}

	attempts = 0
	err = base.Retry(context.Background(), IsRetryable, func() error {
		attempts++
		return errors.New("429")
	})
	if err == nil || attempts != 3 {
		t.Errorf("expected 3 attempts before giving up, got %d (%v)", attempts, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := base.Retry(ctx, IsRetryable, func() error { return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled Retry() = %v", err)
	}
}
