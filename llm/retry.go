package llm

import (
	"math/rand/v2"
	"time"
)

// RetryConfig bounds how often a single endpoint is retried before the
// client falls through to the next model in the capability chain.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts per endpoint.
	MaxAttempts int

	// BackoffBase is the initial backoff duration.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to backoff on each retry.
	BackoffMultiplier float64

	// MaxBackoff caps the maximum backoff duration.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns the extraction defaults: three attempts per
// endpoint with exponential backoff from 2s capped at 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

// Retryable reports whether a failed attempt should be retried on the same
// endpoint. Only transient errors retry, and only while attempts remain;
// fatal errors are surfaced immediately so a fallback model is not asked to
// fix an auth or request problem.
func (c RetryConfig) Retryable(err error, attempt int) bool {
	return err != nil && !IsFatal(err) && attempt < c.MaxAttempts
}

// Backoff computes the exponential backoff duration for the given attempt.
// Jitter of +/- 25% prevents synchronized retries across workers hammering
// the same rate-limited endpoint.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.BackoffMultiplier
	}

	backoff := time.Duration(float64(c.BackoffBase) * multiplier)
	if backoff > c.MaxBackoff {
		backoff = c.MaxBackoff
	}

	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}
