package loader

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig defines how a failed batch commit is retried
type RetryConfig struct {
	MaxAttempts       int           `json:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	Jitter            bool          `json:"jitter"`
}

// DefaultRetryConfig retries lock contention and serialization failures only
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:       3,
	InitialDelay:      200 * time.Millisecond,
	MaxDelay:          5 * time.Second,
	BackoffMultiplier: 2.0,
	Jitter:            true,
}

// delay returns the wait before the given attempt (1-based, attempt > 1).
func (c RetryConfig) delay(attempt int) time.Duration {
	d := time.Duration(float64(c.InitialDelay) * math.Pow(c.BackoffMultiplier, float64(attempt-2)))
	if c.MaxDelay > 0 && d > c.MaxDelay {
		d = c.MaxDelay
	}
	if c.Jitter && d > 0 {
		d += time.Duration(rand.Int63n(int64(d)/10 + 1))
	}
	return d
}

// withRetry runs op until it succeeds, returns a non-retryable error, or attempts run out.
func withRetry(ctx context.Context, cfg RetryConfig, retryable func(error) bool, op func() error) (attempts int, err error) {
	max := cfg.MaxAttempts
	if max < 1 {
		max = 1
	}
	for attempts = 1; ; attempts++ {
		err = op()
		if err == nil || attempts >= max || !retryable(err) {
			return attempts, err
		}
		t := time.NewTimer(cfg.delay(attempts + 1))
		select {
		case <-ctx.Done():
			t.Stop()
			return attempts, err
		case <-t.C:
		}
	}
}
