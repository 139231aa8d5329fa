// Package retry wraps fallible operations with a bounded, jittered
// backoff loop. Which errors are worth another attempt is decided by
// the policy, not the helper.
package retry

import (
	"context"
	"time"

	"github.com/jpillora/backoff"

	"github.com/SergeySdv/backpack-volume-auto/internal/logger"
	"github.com/SergeySdv/backpack-volume-auto/internal/models"
)

// Policy describes one operation's retry behavior: how many attempts, how
// long to wait between them, and which errors justify another try.
type Policy struct {
	Attempts  int
	MinDelay  time.Duration
	MaxDelay  time.Duration
	Retryable func(error) bool // nil retries every error
}

// FromSettings builds a Policy from the config block for one operation.
func FromSettings(rs models.RetrySettings, retryable func(error) bool) Policy {
	return Policy{
		Attempts:  rs.Attempts,
		MinDelay:  time.Duration(rs.MinDelaySec * float64(time.Second)),
		MaxDelay:  time.Duration(rs.MaxDelaySec * float64(time.Second)),
		Retryable: retryable,
	}
}

// Do runs fn until it succeeds, the policy declines the error, the attempt
// budget is exhausted, or the context is cancelled. The last error is
// surfaced; attempts are never unbounded.
func Do(ctx context.Context, p Policy, label string, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	b := &backoff.Backoff{
		Min:    p.MinDelay,
		Max:    p.MaxDelay,
		Factor: 1.5,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		wait := b.Duration()
		logger.S().Infof("%s failed, retrying in %.1fs (%d/%d): %v",
			label, wait.Seconds(), attempt, attempts, lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	return lastErr
}
