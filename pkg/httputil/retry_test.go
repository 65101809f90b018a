package httputil

import (
	"context"
	"errors"
	"testing"
	"time"
)

type sleepRecorder struct {
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func TestPolicyFixedExhaustsAfterTenRetries(t *testing.T) {
	rec := &sleepRecorder{}
	p := FixedPolicy(10, time.Second)
	p.Sleep = rec.sleep

	calls := 0
	timeout := errors.New("connect timeout")
	attempts, err := p.Do(context.Background(), func() error {
		calls++
		return Retryable(timeout)
	})

	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if !errors.Is(err, timeout) {
		t.Errorf("expected last failure in chain, got %v", err)
	}
	if calls != 11 || attempts != 11 {
		t.Errorf("expected 11 attempts (10 retries), got calls=%d attempts=%d", calls, attempts)
	}
	if len(rec.delays) != 10 {
		t.Fatalf("expected 10 sleeps, got %d", len(rec.delays))
	}
	for i, d := range rec.delays {
		if d < time.Second {
			t.Errorf("sleep %d = %v, want >= 1s", i, d)
		}
	}
}

func TestPolicyBackoffDoubles(t *testing.T) {
	rec := &sleepRecorder{}
	p := Backoff(3, 100*time.Millisecond)
	p.Sleep = rec.sleep

	_, _ = p.Do(context.Background(), func() error { return Retryable(errors.New("x")) })

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	if len(rec.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", rec.delays, want)
	}
	for i := range want {
		if rec.delays[i] != want[i] {
			t.Errorf("delay %d = %v, want %v", i, rec.delays[i], want[i])
		}
	}
}

func TestPolicyStopsOnPermanentError(t *testing.T) {
	p := FixedPolicy(10, time.Second)
	p.Sleep = func(context.Context, time.Duration) error {
		t.Fatal("should not sleep on a permanent error")
		return nil
	}

	permanent := errors.New("bad request")
	attempts, err := p.Do(context.Background(), func() error { return permanent })
	if err != permanent {
		t.Errorf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestPolicySucceedsAfterRetry(t *testing.T) {
	p := FixedPolicy(10, time.Second)
	p.Sleep = func(context.Context, time.Duration) error { return nil }

	n := 0
	attempts, err := p.Do(context.Background(), func() error {
		n++
		if n < 3 {
			return Retryable(errors.New("flaky"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestPolicyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FixedPolicy(10, time.Second).Do(ctx, func() error {
		return Retryable(errors.New("timeout"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRetryReturnsLastError(t *testing.T) {
	last := errors.New("still failing")
	err := Retry(context.Background(), 1, time.Millisecond, func() error {
		return Retryable(last)
	})
	if !errors.Is(err, last) {
		t.Errorf("expected last error, got %v", err)
	}
	if errors.Is(err, ErrExhausted) {
		t.Error("Retry should return the last failure, not the exhaustion wrapper")
	}
}
