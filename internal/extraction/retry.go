package extraction

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior with exponential backoff.
type RetryConfig struct {
	MaxRetries     int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	JitterFraction float64 // 0.0 to 1.0 — fraction of delay to randomize
}

// DefaultLLMRetryConfig matches the extraction contract: three attempts
// total with deterministic waits of 4 s then 8 s, capped at 60 s.
var DefaultLLMRetryConfig = RetryConfig{
	MaxRetries:    2,
	InitialDelay:  4 * time.Second,
	MaxDelay:      60 * time.Second,
	BackoffFactor: 2.0,
}

// Attempts returns the total number of invocations the config allows.
func (c RetryConfig) Attempts() int {
	return c.MaxRetries + 1
}

// WithRetry executes fn with exponential backoff.
// It stops retrying if the error is not transient, the context is
// cancelled, or max retries are exhausted. Retry state lives entirely in
// this call frame; concurrent calls never share counters.
func WithRetry[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var lastErr error
	var zero T

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return zero, err
		}

		if attempt >= cfg.MaxRetries {
			break
		}

		// wait = initial * factor^attempt, capped at MaxDelay
		delay := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt))
		if delay > float64(cfg.MaxDelay) {
			delay = float64(cfg.MaxDelay)
		}

		if cfg.JitterFraction > 0 {
			jitter := delay * cfg.JitterFraction * (rand.Float64()*2 - 1) // +/- jitter
			delay += jitter
			if delay < 0 {
				delay = float64(cfg.InitialDelay)
			}
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(time.Duration(delay)):
			// continue to next attempt
		}
	}

	return zero, lastErr
}
