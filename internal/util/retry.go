package util

import (
	"context"
	"errors"
	"time"
)

// Backoff controls Retry. The delay starts at Base and doubles after each
// failed attempt, capped at Max when Max is positive.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration

	// OnRetry, when set, is called before sleeping after failed attempt n
	// (1-based).
	OnRetry func(n int, err error, wait time.Duration)
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Retry returns the wrapped error
// unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn until it succeeds, returns a Permanent error, or b.Attempts
// calls have failed, in which case the last error is returned. A cancelled
// ctx stops the wait between attempts.
func Retry(ctx context.Context, b Backoff, fn func() error) error {
	attempts := max(b.Attempts, 1)
	delay := b.Base

	var err error
	for n := 1; n <= attempts; n++ {
		if err = fn(); err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if n == attempts {
			break
		}

		if b.OnRetry != nil {
			b.OnRetry(n, err, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if b.Max > 0 && delay > b.Max {
			delay = b.Max
		}
	}
	return err
}
