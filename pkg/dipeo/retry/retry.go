// Package retry provides bounded retry with exponential backoff and
// jitter, respecting context cancellation between attempts.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	MaxAttempts int

	// InitialBackoff is the starting backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each attempt.
	BackoffFactor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64

	// RetryableFunc optionally restricts which errors are retried.
	// A nil func retries every error.
	RetryableFunc func(error) bool
}

// Default is the standard retry configuration.
var Default = Config{
	MaxAttempts:    3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// None disables retries.
var None = Config{
	MaxAttempts: 1,
}

// normalized fills zero fields with sane values so partial configs from
// node properties still behave.
func (c Config) normalized() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = Default.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = Default.MaxBackoff
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = Default.BackoffFactor
	}
	return c
}

// Result contains the outcome of a retried operation.
type Result[T any] struct {
	// Value is the result if successful.
	Value T

	// Err is the final error if all attempts failed.
	Err error

	// Attempts is the number of attempts made.
	Attempts int

	// Duration is the total time spent across attempts.
	Duration time.Duration
}

// Do executes fn with retries, respecting context cancellation before
// each attempt and during backoff sleeps.
func Do[T any](ctx context.Context, cfg Config, fn func(context.Context) (T, error)) Result[T] {
	cfg = cfg.normalized()
	start := time.Now()
	backoff := cfg.InitialBackoff
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result[T]{Err: err, Attempts: attempt, Duration: time.Since(start)}
		}

		result, err := fn(ctx)
		if err == nil {
			return Result[T]{Value: result, Attempts: attempt + 1, Duration: time.Since(start)}
		}
		lastErr = err

		if cfg.RetryableFunc != nil && !cfg.RetryableFunc(err) {
			return Result[T]{Err: err, Attempts: attempt + 1, Duration: time.Since(start)}
		}

		// No sleep after the last attempt.
		if attempt < cfg.MaxAttempts-1 {
			select {
			case <-ctx.Done():
				return Result[T]{Err: ctx.Err(), Attempts: attempt + 1, Duration: time.Since(start)}
			case <-time.After(withJitter(backoff, cfg.Jitter)):
			}

			backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
			if backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}
	}

	return Result[T]{Err: lastErr, Attempts: cfg.MaxAttempts, Duration: time.Since(start)}
}

// withJitter returns the backoff duration with jitter applied:
// base +/- (base * jitter * random).
func withJitter(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}
	jitterAmount := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + jitterAmount)
}
