// Package retry classifies network failures and re-runs fallible
// operations with capped exponential backoff.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// Policy bounds a retried operation.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxJitter   time.Duration

	// OnRetry, when set, observes each scheduled retry. Used to feed
	// the retry counter metric.
	OnRetry func()
}

// DefaultPolicy suits ordinary listing fetches.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    15 * time.Second,
		MaxJitter:   250 * time.Millisecond,
	}
}

// CriticalPolicy suits operations worth more patience, such as
// credential validation during health checks.
func CriticalPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		MaxJitter:   500 * time.Millisecond,
	}
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	return p
}

// delay computes the wait before retry number attempt (zero-based):
// min(MaxDelay, BaseDelay * 2^attempt) plus jitter.
func (p Policy) delay(attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	d := p.BaseDelay << attempt
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	if p.MaxJitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.MaxJitter)))
	}
	return d
}

// Do runs op until it succeeds, fails non-retryably, or exhausts the
// policy's attempts; the last error is then surfaced, never swallowed.
// Cancellation of ctx stops the loop immediately, including mid-backoff.
func Do(ctx context.Context, policy Policy, logger zerolog.Logger, name string, op func(context.Context) error) error {
	policy = policy.normalized()

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !Retryable(err) {
			return err
		}
		lastErr = err

		if attempt == policy.MaxAttempts-1 {
			break
		}
		wait := policy.delay(attempt)
		if policy.OnRetry != nil {
			policy.OnRetry()
		}
		logger.Debug().
			Str("op", name).
			Int("attempt", attempt+1).
			Dur("backoff", wait).
			Err(err).
			Msg("transient failure, retrying")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%s: %d attempts exhausted: %w", name, policy.MaxAttempts, lastErr)
}
