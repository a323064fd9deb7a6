// Package retry provides an exponential-backoff wrapper for unreliable calls.
package retry

import (
	"context"
	"math"
	"time"
)

// Policy configures exponential backoff. The zero value retries nothing; use
// Default() or build one from config.
type Policy struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64

	// Retryable classifies errors. A nil classifier treats every error as
	// retryable. Non-retryable errors propagate immediately without
	// consuming an attempt.
	Retryable func(error) bool
}

// Default returns the policy used when no configuration is supplied.
func Default() Policy {
	return Policy{
		MaxRetries:      3,
		BaseDelay:       500 * time.Millisecond,
		MaxDelay:        10 * time.Second,
		ExponentialBase: 2,
	}
}

// Delay returns the backoff delay after the given zero-based attempt:
// min(base * exp^attempt, max).
func (p Policy) Delay(attempt int) time.Duration {
	base := p.ExponentialBase
	if base < 1 {
		base = 1
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(base, float64(attempt)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do invokes fn up to MaxRetries+1 times, sleeping between attempts. The
// sleep honours ctx cancellation. On exhaustion the last error is returned.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxRetries {
			break
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
