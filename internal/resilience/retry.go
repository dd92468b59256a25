package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy is the single retry abstraction shared by every call site: the
// orchestrator's fixed-delay location loop and the exponential-backoff API
// clients are both instances of it.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first try.
	// 1 means no retries. Default: 3.
	MaxAttempts int

	// Delay is the base wait before the first retry. Default: 500ms.
	Delay time.Duration

	// MaxDelay caps the computed wait. Default: 30s.
	MaxDelay time.Duration

	// Multiplier scales the wait after each attempt; 1.0 gives a fixed
	// inter-attempt delay. Default: 2.0.
	Multiplier float64

	// Jitter adds random spread as a fraction of the computed wait
	// (0 = none, 0.5 = ±50%). Default: 0.
	Jitter float64

	// Classify decides whether an error is worth retrying. Nil means
	// IsTransient.
	Classify func(err error) bool

	// OnAttempt is invoked before each retry sleep with the retry number
	// (1-based) and the error that triggered it.
	OnAttempt func(attempt int, err error)
}

// Backoff returns the standard exponential-backoff policy for API calls.
func Backoff() Policy {
	return Policy{
		MaxAttempts: 3,
		Delay:       500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.25,
	}
}

// Fixed returns a constant-delay policy that retries every error. The
// orchestrator uses it for the per-location gathering loop.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{
		MaxAttempts: attempts,
		Delay:       delay,
		MaxDelay:    delay,
		Multiplier:  1.0,
		Classify:    func(error) bool { return true },
	}
}

// Once returns a single-attempt policy. Used for the analysis webhook,
// where a failed handoff must not delay the batch.
func Once() Policy {
	return Policy{MaxAttempts: 1}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Delay <= 0 {
		p.Delay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Classify == nil {
		p.Classify = IsTransient
	}
	return p
}

// Do executes fn under the policy. Context cancellation stops retries
// immediately; the last error is returned when attempts are exhausted.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue executes fn under the policy, preserving the successful value.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	var zero T
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, lastErr
		}
		if !p.Classify(lastErr) {
			return zero, lastErr
		}
		if attempt >= p.MaxAttempts-1 {
			break
		}

		if p.OnAttempt != nil {
			p.OnAttempt(attempt+1, lastErr)
		}

		timer := time.NewTimer(p.waitFor(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}
	return zero, lastErr
}

// waitFor computes the sleep before the retry following the given attempt.
func (p Policy) waitFor(attempt int) time.Duration {
	wait := float64(p.Delay) * math.Pow(p.Multiplier, float64(attempt))
	if wait > float64(p.MaxDelay) {
		wait = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		spread := wait * p.Jitter
		wait += (rand.Float64()*2 - 1) * spread
	}
	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait)
}

// Logged returns an OnAttempt callback that logs each retry.
func Logged(component, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("component", component),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
