package wikidot

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/mirrorkit/wikidot-mirror/internal/logger"
)

const (
	// DefaultMaxAttempts is the default bounded attempt count.
	DefaultMaxAttempts = 5

	// baseBackoff is the initial delay between retries.
	baseBackoff = time.Second

	// maxBackoff caps the exponential growth.
	maxBackoff = 2 * time.Minute
)

// RetryPolicy is the bounded-retry wrapper around a single remote call.
// Backoff state is carried as data, not as recursive control flow.
type RetryPolicy struct {
	MaxAttempts int
	limiter     *RateLimiter
}

// NewRetryPolicy creates a retry policy sharing the given rate limiter.
func NewRetryPolicy(limiter *RateLimiter, maxAttempts int) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &RetryPolicy{MaxAttempts: maxAttempts, limiter: limiter}
}

// Do runs op under the rate gate, retrying transient failures with
// exponential backoff and jitter up to MaxAttempts. A rate-limited
// response extends the shared backoff window without consuming an
// attempt. Definitive failures (not-found, other 4xx) surface
// immediately to the caller.
func (p *RetryPolicy) Do(ctx context.Context, desc string, op func(ctx context.Context) error) error {
	attempt := 0
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if IsRateLimited(err) {
			var retryAfter time.Duration
			var rl *RateLimitError
			if errors.As(err, &rl) {
				retryAfter = rl.RetryAfter
			}
			p.limiter.RecordRateLimited(retryAfter)
			logger.Warn("%s: rate limited, extending backoff window", desc)
			continue
		}

		if !IsTransient(err) {
			return err
		}

		attempt++
		if attempt >= p.MaxAttempts {
			return fmt.Errorf("%s after %d attempts: %w (%w)", desc, attempt, ErrRetriesExhausted, err)
		}

		delay := backoffDelay(attempt)
		logger.Warn("%s: attempt %d/%d failed: %v (retrying in %s)", desc, attempt, p.MaxAttempts, err, delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// backoffDelay returns the exponential backoff for the given attempt,
// with up to 25% jitter so parallel workers do not retry in lockstep.
func backoffDelay(attempt int) time.Duration {
	delay := maxBackoff
	if shift := attempt - 1; shift < 8 {
		delay = baseBackoff << shift
	}
	if delay > maxBackoff {
		delay = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 4))
	return delay + jitter
}
