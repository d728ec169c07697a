// Package retry provides bounded retries with exponential backoff and
// jitter for calls to external rails (transfer provider, insights API).
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// PermanentError marks an error that retrying cannot fix. Do unwraps and
// returns it immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do gives up on it at once.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Do runs fn up to maxAttempts times. The delay starts at baseDelay and
// doubles per attempt, spread by +-25% jitter so synchronized callers
// don't retry in lockstep. Context cancellation wins over the backoff
// sleep.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	delay := baseDelay
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		var perm *PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		if attempt == maxAttempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(withJitter(delay)):
		}
		delay *= 2
	}
}

// withJitter spreads d uniformly across [0.75d, 1.25d].
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := int64(d) / 2
	return time.Duration(int64(d)*3/4 + rand.Int64N(half+1))
}
