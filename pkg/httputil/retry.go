package httputil

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is returned by [Policy.Do] when every attempt failed with a
// retryable error.
var ErrExhausted = errors.New("retries exhausted")

// RetryableError wraps an error to indicate it should trigger a retry.
// Wrap transient failures (network timeouts, 5xx responses) with this type
// so that [Policy] knows to attempt the operation again.
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err as a [RetryableError]. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err is wrapped with [RetryableError].
func IsRetryable(err error) bool {
	return errors.As(err, new(*RetryableError))
}

// Policy describes how often and how far apart an operation is retried.
type Policy struct {
	Retries int           // retries after the first attempt
	Delay   time.Duration // wait before the first retry
	Backoff bool          // double Delay after every retry

	// Sleep waits for d or until ctx is done. Nil means a real timer;
	// tests inject a recorder.
	Sleep func(ctx context.Context, d time.Duration) error
}

// FixedPolicy retries up to retries times with a constant delay.
func FixedPolicy(retries int, delay time.Duration) Policy {
	return Policy{Retries: retries, Delay: delay}
}

// Backoff retries up to retries times, doubling the delay each time.
func Backoff(retries int, delay time.Duration) Policy {
	return Policy{Retries: retries, Delay: delay, Backoff: true}
}

// Do calls fn until it succeeds, fails with a non-retryable error, the
// context is cancelled, or the retry budget is spent. It returns the number
// of attempts made. Exhaustion is reported as an error wrapping both
// [ErrExhausted] and the last failure.
func (p Policy) Do(ctx context.Context, fn func() error) (int, error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	delay := p.Delay
	retries := max(p.Retries, 0)

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return attempt, nil
		}
		if !IsRetryable(err) {
			return attempt, err
		}
		if attempt > retries {
			return attempt, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return attempt, err
		}
		if p.Backoff {
			delay *= 2
		}
	}
}

// Retry executes fn up to attempts times with exponential backoff.
// It only retries errors wrapped with [RetryableError]; other errors are
// returned immediately. Returns the last error if all attempts fail, or
// ctx.Err() if cancelled.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	_, err := Backoff(max(attempts, 1)-1, delay).Do(ctx, fn)
	if errors.Is(err, ErrExhausted) {
		return lastRetryable(err)
	}
	return err
}

// RetryWithBackoff is a convenience wrapper around [Retry] with sensible
// defaults: 3 attempts with 1 second initial delay (doubling each retry).
func RetryWithBackoff(ctx context.Context, fn func() error) error {
	return Retry(ctx, 3, time.Second, fn)
}

// lastRetryable returns the final attempt's error from an exhaustion error.
func lastRetryable(err error) error {
	var re *RetryableError
	if errors.As(err, &re) {
		return re
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
