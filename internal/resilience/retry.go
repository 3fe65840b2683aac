// Package resilience holds the retry policy and circuit breaker that wrap
// every provider call.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"casefile/internal/faults"
)

// Sleeper suspends for d or until ctx is done. It is the only suspension point
// of the retry loop and is swapped out in tests.
type Sleeper func(ctx context.Context, d time.Duration) error

// Observer is notified before each retry sleep with the attempt that failed,
// its error and the upcoming delay. It must not influence control flow.
type Observer func(attempt int, err error, delay time.Duration)

// RetryPolicy configures bounded exponential backoff.
type RetryPolicy struct {
	// MaxAttempts includes the initial attempt.
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration

	Sleep    Sleeper
	Observer Observer
}

// DefaultRetryPolicy returns the policy used when nothing is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		Multiplier:  2.0,
		MaxDelay:    10 * time.Second,
	}
}

// Validate checks the numeric bounds of the policy.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry: max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("retry: base delay must not be negative, got %s", p.BaseDelay)
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("retry: max delay %s is below base delay %s", p.MaxDelay, p.BaseDelay)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("retry: multiplier must be >= 1, got %g", p.Multiplier)
	}
	return nil
}

// Delay returns the sleep that follows failed attempt n (n >= 1):
// min(BaseDelay * Multiplier^(n-1), MaxDelay).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if math.IsInf(d, 0) || math.IsNaN(d) || d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Ceiling is the worst-case wall clock of one logical call: every attempt
// runs to its timeout and every backoff is slept in full.
func (p RetryPolicy) Ceiling(attemptTimeout time.Duration) time.Duration {
	total := time.Duration(p.MaxAttempts) * attemptTimeout
	for n := 1; n < p.MaxAttempts; n++ {
		total += p.Delay(n)
	}
	return total
}

// retryState is the call-local state advanced by the control loop.
type retryState struct {
	attempt   int
	lastErr   error
	nextDelay time.Duration
}

// Retry invokes fn until it succeeds, fails with a non-retryable error, or
// MaxAttempts is reached. The last error is returned as is, tagged with the
// number of attempts made.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T

	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var st retryState
	for st.attempt = 1; ; st.attempt++ {
		out, err := fn(ctx, st.attempt)
		if err == nil {
			return out, nil
		}
		st.lastErr = err

		if !faults.IsRetryable(err) || st.attempt >= maxAttempts {
			return zero, faults.TagAttempts(st.lastErr, st.attempt)
		}

		st.nextDelay = p.Delay(st.attempt)
		notify(p.Observer, st.attempt, st.lastErr, st.nextDelay)

		if serr := sleep(ctx, st.nextDelay); serr != nil {
			if errors.Is(serr, context.Canceled) {
				return zero, serr
			}
			return zero, faults.TagAttempts(st.lastErr, st.attempt)
		}
	}
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func notify(obs Observer, attempt int, err error, delay time.Duration) {
	if obs == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("retry observer panicked", "attempt", attempt, "panic", r)
		}
	}()
	obs(attempt, err, delay)
}
