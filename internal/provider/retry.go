package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrProviderTimeout is returned when a provider call misses its deadline;
// the engine treats it as a cancelled turn.
var ErrProviderTimeout = errors.New("provider: timed out")

// RetryConfig bounds the backoff loop Retry runs around a single provider
// call, generalized from the teacher's embedding_retry.go bounded-attempts
// shape ("retry embedding generation on a schedule") into "retry one
// provider call within a turn with bounded backoff."
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 200 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	return c
}

// Retry calls fn up to cfg.MaxAttempts times, doubling the delay between
// attempts up to cfg.MaxDelay. A context deadline exceeded is translated to
// ErrProviderTimeout. The last error is returned if every attempt fails.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()

	delay := cfg.BaseDelay
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return translateContextErr(ctx)
			}
			delay *= 2
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrProviderTimeout
		}
		lastErr = err
	}
	return fmt.Errorf("provider: exhausted %d attempts: %w", cfg.MaxAttempts, lastErr)
}

func translateContextErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrProviderTimeout
	}
	return ctx.Err()
}
