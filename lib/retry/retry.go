// Package retry applies a single retry policy value to any fallible
// I/O call instead of duplicating backoff loops per call site.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/mazen160/go-random"
)

// Policy describes bounded exponential backoff. The zero value retries
// nothing, use a named preset or fill it explicitly.
type Policy struct {
	// MaxAttempts counts the first try, so 3 means 1 try + 2 retries.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the maximum random addition to each delay.
	Jitter time.Duration
}

// Quick suits in-process retries around a single HTTP request.
var Quick = Policy{
	MaxAttempts: 3,
	BaseDelay:   time.Millisecond * 500,
	MaxDelay:    time.Second * 8,
	Jitter:      time.Millisecond * 250,
}

type permanent struct {
	err error
}

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent marks an error so Do gives up immediately instead of
// burning the remaining attempts on something that cannot succeed.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d > p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if p.Jitter > 0 {
		extra, err := random.IntRange(0, int(p.Jitter))
		if err == nil {
			d += time.Duration(extra)
		}
	}
	return d
}

// Do runs fn until it succeeds, returns a Permanent error, the policy
// is exhausted or ctx is cancelled. The last error is returned.
func Do(ctx context.Context, p Policy, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(ctx.Err(), lastErr)
			case <-time.After(p.delay(attempt - 1)):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		var perm permanent
		if errors.As(lastErr, &perm) {
			return perm.err
		}
	}
	return lastErr
}
