package unifiedllm

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy configures retry behavior with exponential backoff. The same
// budget covers opening a stream and replaying a turn whose stream was
// interrupted.
type RetryPolicy struct {
	MaxRetries        int     // retry attempts after the first call
	BaseDelay         float64 // initial delay in seconds
	MaxDelay          float64 // maximum delay between retries in seconds
	BackoffMultiplier float64
	Jitter            bool

	// OnRetry is called with the 1-based attempt number before each wait.
	OnRetry func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy returns the policy used for provider streams.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        2,
		BaseDelay:         1.0,
		MaxDelay:          30.0,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// Delay calculates the delay for attempt n (0-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := math.Min(p.BaseDelay*math.Pow(p.BackoffMultiplier, float64(attempt)), p.MaxDelay)
	if p.Jitter {
		delay = delay * (0.5 + rand.Float64())
	}
	return time.Duration(delay * float64(time.Second))
}

// backoff returns how long to wait before retry attempt (1-based) of err.
// A rate limit's Retry-After replaces the computed delay; it reports false
// when that is longer than MaxDelay.
func (p RetryPolicy) backoff(attempt int, err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter != nil {
		after := time.Duration(*rl.RetryAfter * float64(time.Second))
		if after > time.Duration(p.MaxDelay*float64(time.Second)) {
			return 0, false
		}
		return after, true
	}
	return p.Delay(attempt - 1), true
}

// Wait runs OnRetry and sleeps before retry attempt (1-based) of err. It
// returns err itself when the policy gives up on it, and an *AbortError
// when ctx ends first.
func (p RetryPolicy) Wait(ctx context.Context, attempt int, err error) error {
	if attempt > p.MaxRetries {
		return err
	}
	delay, ok := p.backoff(attempt, err)
	if !ok {
		return err
	}
	if p.OnRetry != nil {
		p.OnRetry(err, attempt, delay)
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return &AbortError{SDKError: SDKError{Message: "request cancelled during retry", Cause: ctx.Err()}}
	case <-timer.C:
		return nil
	}
}

// Retry executes fn with the configured retry policy.
// Only retryable errors are retried.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	result, err := fn(ctx)
	for attempt := 1; err != nil; attempt++ {
		if !IsRetryable(err) {
			return zero, err
		}
		if werr := policy.Wait(ctx, attempt, err); werr != nil {
			return zero, werr
		}
		result, err = fn(ctx)
	}
	return result, nil
}

// IsStreamInterruption reports whether err ended a stream that had already
// opened in a way worth replaying: an idle timeout or a network failure.
func IsStreamInterruption(err error) bool {
	var idle *IdleTimeoutError
	var netErr *NetworkError
	return errors.As(err, &idle) || errors.As(err, &netErr)
}
