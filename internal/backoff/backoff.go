// Package backoff provides exponential backoff with jitter for retrying
// model requests and other transient failures.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy defines an exponential backoff curve.
type Policy struct {
	// Initial is the delay after the first failed attempt.
	Initial time.Duration
	// Max caps every delay.
	Max time.Duration
	// Factor multiplies the delay after each further attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) added on top of the
	// base delay.
	Jitter float64
}

// DefaultPolicy starts at 1s, doubles, caps at 30s and adds up to 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		Initial: time.Second,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}

// Delay returns the wait after the given failed attempt (1-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// delay computes min(Max, base + base*Jitter*r) with
// base = Initial * Factor^(attempt-1).
func (p Policy) delay(attempt int, r float64) time.Duration {
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(factor, exp)
	total := base + base*p.Jitter*r
	if p.Max > 0 {
		total = math.Min(float64(p.Max), total)
	}
	return time.Duration(math.Round(total))
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter
// case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retrier runs an operation until it succeeds, fails permanently, or runs
// out of attempts.
type Retrier struct {
	Policy Policy

	// MaxAttempts counts the first attempt. Values below 1 mean 1.
	MaxAttempts int

	// Retryable reports whether an error is worth another attempt. Nil
	// retries every error.
	Retryable func(error) bool

	// OnRetry is called before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// Do calls op with the 1-indexed attempt number. It returns nil on success,
// ctx.Err() when the context ends first, and otherwise the last error op
// returned.
func (r Retrier) Do(ctx context.Context, op func(attempt int) error) error {
	maxAttempts := max(r.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(attempt)
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts || (r.Retryable != nil && !r.Retryable(lastErr)) {
			return lastErr
		}

		wait := r.Policy.Delay(attempt)
		if r.OnRetry != nil {
			r.OnRetry(attempt, wait, lastErr)
		}
		if err := Sleep(ctx, wait); err != nil {
			return err
		}
	}
	return lastErr
}
