package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"gacpline/internal/config"
)

// Policy is a bounded exponential backoff with jitter. One policy value is
// shared by database connect, engine save-conflict retries and the report
// driver so every retry loop in the process behaves the same way.
type Policy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
	// Jitter returns a multiplier for one delay. Nil means uniform [0.5,1.5).
	Jitter func() float64
}

// FromConfig builds a Policy from the retry section of the engine config.
func FromConfig(cfg *config.Config) Policy {
	return Policy{
		Base:        time.Duration(cfg.Retry.BaseMS) * time.Millisecond,
		Cap:         time.Duration(cfg.Retry.CapMS) * time.Millisecond,
		MaxAttempts: cfg.Retry.MaxAttempts,
	}
}

// Delay returns the backoff before the given zero-based attempt:
// min(base * 2^attempt * jitter, cap).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.Cap {
			d = p.Cap
			break
		}
	}
	j := 0.5 + rand.Float64()
	if p.Jitter != nil {
		j = p.Jitter()
	}
	d = time.Duration(float64(d) * j)
	if d > p.Cap {
		d = p.Cap
	}
	return d
}

// ErrAttemptsExhausted is returned by Do when every attempt failed.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Permanent wraps an error that Do must not retry.
type Permanent struct{ Err error }

func (p Permanent) Error() string { return p.Err.Error() }
func (p Permanent) Unwrap() error { return p.Err }

// Do runs fn up to MaxAttempts times, sleeping Delay(attempt) between
// failures. A Permanent error or context cancellation stops early. The last
// error is wrapped alongside ErrAttemptsExhausted when attempts run out.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.Delay(attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := fn()
		if err == nil {
			return nil
		}
		var perm Permanent
		if errors.As(err, &perm) {
			return perm.Err
		}
		last = err
	}
	return errors.Join(ErrAttemptsExhausted, last)
}
