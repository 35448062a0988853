package providers

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryPolicy is the single retry policy applied to every provider call.
type RetryPolicy struct {
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64
}

// DefaultRetryPolicy matches the documented provider call contract: up to 3
// attempts, exponential backoff from 250ms capped at 4s, +/-20% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseBackoff:    250 * time.Millisecond,
		MaxBackoff:     4 * time.Second,
		JitterFraction: 0.2,
	}
}

// WithRetry runs operation under the policy. Rate-limit errors wait out the
// server's retry_after hint instead of the computed backoff; auth and
// permanent errors abort immediately so the caller can fail over. The last
// error is returned once attempts are exhausted.
func WithRetry(ctx context.Context, policy RetryPolicy, operation func(ctx context.Context) error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	backoff := policy.BaseBackoff

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation(ctx)
		if lastErr == nil {
			return nil
		}

		kind := Classify(lastErr)
		if !kind.Retryable() {
			return lastErr
		}
		if attempt == policy.MaxAttempts {
			break
		}

		wait := backoff
		var pe *ProviderError
		if errors.As(lastErr, &pe) && pe.Kind == KindRateLimited && pe.RetryAfter > 0 {
			wait = pe.RetryAfter
		}
		wait = jitter(wait, policy.JitterFraction)

		log.Debug().
			Err(lastErr).
			Int("attempt", attempt).
			Int("max_attempts", policy.MaxAttempts).
			Dur("backoff", wait).
			Str("kind", string(kind)).
			Msg("Provider call failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		backoff *= 2
		if backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}

	return lastErr
}

// jitter spreads a wait by +/- fraction to avoid synchronized retries.
func jitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 || d <= 0 {
		return d
	}
	delta := float64(d) * fraction
	return time.Duration(float64(d) - delta + rand.Float64()*2*delta)
}
