// Package retry wraps store writes in a bounded backoff policy so that
// transient lock contention from a single-writer database is absorbed
// instead of surfacing to callers.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// ErrExhausted is returned (wrapping the last cause) when every attempt failed
// with a retryable error.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy describes how many times a write is attempted and how long to wait
// between attempts. Delays double from BaseDelay and are capped at MaxDelay,
// which yields a fixed, deterministic schedule.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the wait before the second attempt.
	BaseDelay time.Duration

	// MaxDelay caps any single wait. Zero means uncapped.
	MaxDelay time.Duration

	// Retryable classifies errors. Errors it rejects are returned immediately.
	Retryable func(error) bool

	// OnRetry, if set, is called before each wait with the failed attempt number.
	OnRetry func(attempt int, err error)
}

// DefaultPolicy returns the schedule used for task store writes:
// 5 attempts waiting 25ms, 50ms, 100ms, 200ms.
func DefaultPolicy(retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   25 * time.Millisecond,
		MaxDelay:    time.Second,
		Retryable:   retryable,
	}
}

// Schedule returns the waits the policy will insert between attempts.
func (p Policy) Schedule() []time.Duration {
	b := p.backoff()
	var out []time.Duration
	for {
		d, stop := b.Next()
		if stop {
			return out
		}
		out = append(out, d)
	}
}

func (p Policy) backoff() goretry.Backoff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	b := goretry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = goretry.WithCappedDuration(p.MaxDelay, b)
	}
	return goretry.WithMaxRetries(uint64(attempts-1), b)
}

func (p Policy) retryable(err error) bool {
	if p.Retryable == nil {
		return false
	}
	return p.Retryable(err)
}

// Do runs op until it succeeds, returns a non-retryable error, the context is
// done, or the attempt budget is spent. In the last case the returned error
// wraps both ErrExhausted and the final cause.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var (
		result   T
		attempts int
	)

	err := goretry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempts++
		v, err := op(ctx)
		if err == nil {
			result = v
			return nil
		}
		if !p.retryable(err) {
			return err
		}
		if p.OnRetry != nil && attempts < p.MaxAttempts {
			p.OnRetry(attempts, err)
		}
		return goretry.RetryableError(err)
	})
	if err == nil {
		return result, nil
	}

	if p.retryable(err) {
		return result, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, err)
	}
	return result, err
}
