package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"gacpline/internal/retry"
)

func TestDelayDoublesUpToCap(t *testing.T) {
	p := retry.Policy{
		Base:   100 * time.Millisecond,
		Cap:    time.Second,
		Jitter: func() float64 { return 1 },
	}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{10, time.Second},
		{-1, 100 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := p.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestDelayJitterNeverExceedsCap(t *testing.T) {
	p := retry.Policy{
		Base:   100 * time.Millisecond,
		Cap:    time.Second,
		Jitter: func() float64 { return 1.5 },
	}
	if got := p.Delay(0); got != 150*time.Millisecond {
		t.Fatalf("Delay(0) = %v, want 150ms", got)
	}
	if got := p.Delay(4); got != time.Second {
		t.Fatalf("Delay(4) = %v, want cap", got)
	}
}

func TestDoStopsOnSuccess(t *testing.T) {
	p := retry.Policy{Base: time.Microsecond, Cap: time.Microsecond, MaxAttempts: 5}
	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	p := retry.Policy{Base: time.Microsecond, Cap: time.Microsecond, MaxAttempts: 3}
	calls := 0
	inner := errors.New("still broken")
	err := p.Do(context.Background(), func() error {
		calls++
		return inner
	})
	if !errors.Is(err, retry.ErrAttemptsExhausted) {
		t.Fatalf("expected attempts exhausted, got %v", err)
	}
	if !errors.Is(err, inner) {
		t.Fatalf("last error not wrapped: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoPermanentStopsImmediately(t *testing.T) {
	p := retry.Policy{Base: time.Microsecond, Cap: time.Microsecond, MaxAttempts: 5}
	calls := 0
	inner := errors.New("bad input")
	err := p.Do(context.Background(), func() error {
		calls++
		return retry.Permanent{Err: inner}
	})
	if !errors.Is(err, inner) {
		t.Fatalf("expected inner error, got %v", err)
	}
	if errors.Is(err, retry.ErrAttemptsExhausted) {
		t.Fatalf("permanent error must not count as exhaustion")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	p := retry.Policy{Base: time.Hour, Cap: time.Hour, MaxAttempts: 5}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := p.Do(ctx, func() error {
		calls++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
