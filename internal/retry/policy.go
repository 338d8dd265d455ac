// Package retry provides bounded retry with exponential backoff for pipeline stages.
package retry

import (
	"context"
	"errors"
	"time"

	goretry "github.com/sethvargo/go-retry"

	"github.com/tjfontaine/polyglot-rag/internal/domain"
)

// Policy is a stateless retry configuration. A zero MaxAttempts is treated
// as a single attempt.
type Policy struct {
	// MaxAttempts is the total number of attempts, the first one included.
	MaxAttempts int
	// MinWait is the wait after the first failed attempt.
	MinWait time.Duration
	// MaxWait caps every wait. Zero means uncapped.
	MaxWait time.Duration
	// Retryable decides whether a failure may be retried.
	// Defaults to domain.IsRetryable.
	Retryable func(error) bool
	// OnRetry is called before waiting for the next attempt.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Wait returns the delay between attempt and attempt+1:
// min(MaxWait, MinWait * 2^(attempt-1)).
func (p Policy) Wait(attempt int) time.Duration {
	if attempt < 1 || p.MinWait <= 0 {
		return 0
	}
	wait := p.MinWait
	for i := 1; i < attempt; i++ {
		wait *= 2
		if p.MaxWait > 0 && wait >= p.MaxWait {
			return p.MaxWait
		}
		if wait <= 0 {
			// overflow
			return p.MaxWait
		}
	}
	if p.MaxWait > 0 && wait > p.MaxWait {
		return p.MaxWait
	}
	return wait
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Backoff builds a fresh go-retry backoff for one Do call. go-retry
// backoffs carry attempt state and must not be shared between calls.
func (p Policy) Backoff() goretry.Backoff {
	var b goretry.Backoff
	if p.MinWait <= 0 {
		b = goretry.BackoffFunc(func() (time.Duration, bool) { return 0, false })
	} else {
		b = goretry.NewExponential(p.MinWait)
		if p.MaxWait > 0 {
			b = goretry.WithCappedDuration(p.MaxWait, b)
		}
	}
	return goretry.WithMaxRetries(uint64(p.attempts()-1), b)
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempts are exhausted. The last failure is returned unchanged.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	retryable := p.Retryable
	if retryable == nil {
		retryable = domain.IsRetryable
	}

	var (
		result  T
		lastErr error
		attempt int
	)

	err := goretry.Do(ctx, p.Backoff(), func(ctx context.Context) error {
		attempt++
		v, err := op(ctx)
		if err != nil {
			lastErr = err
			if !retryable(err) {
				return err
			}
			if p.OnRetry != nil && attempt < p.attempts() {
				p.OnRetry(attempt, err, p.Wait(attempt))
			}
			return goretry.RetryableError(err)
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		if lastErr != nil && errors.Is(err, lastErr) {
			return zero, lastErr
		}
		return zero, err
	}
	return result, nil
}
