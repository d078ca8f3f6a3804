package ingest

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig holds configuration for bounded insert retries.
type RetryConfig struct {
	// MaxAttempts is the total attempt budget per batch, first try
	// included (default: 5).
	MaxAttempts int
	// InitialBackoff is the wait before the first retry (default: 200ms).
	InitialBackoff time.Duration
	// MaxBackoff caps the wait between retries (default: 10s).
	MaxBackoff time.Duration
	// Multiplier grows the wait between consecutive retries (default: 2.0).
	Multiplier float64
	// JitterFactor randomizes each wait by up to this fraction in either
	// direction (default: 0.2).
	JitterFactor float64
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.Multiplier <= 1.0 {
		c.Multiplier = 2.0
	}
	if c.JitterFactor < 0 || c.JitterFactor >= 1.0 {
		c.JitterFactor = 0.2
	}
	return c
}

// Retrier runs an operation under a bounded exponential backoff with
// jitter. It is stateless between calls and safe for concurrent use.
type Retrier struct {
	cfg RetryConfig
}

// NewRetrier creates a retrier.
func NewRetrier(cfg RetryConfig) *Retrier {
	return &Retrier{cfg: cfg.withDefaults()}
}

// MaxAttempts returns the per-batch attempt budget.
func (r *Retrier) MaxAttempts() int {
	return r.cfg.MaxAttempts
}

// Do runs op until it succeeds, returns a non-retryable error, exhausts
// the attempt budget, or ctx is canceled. retryable decides whether an
// error is worth another attempt; onRetry (optional) is called before
// each wait. It returns the attempt count and the last error.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error, retryable func(error) bool, onRetry func(attempt int, err error, wait time.Duration)) (int, error) {
	var err error
	for attempt := 1; ; attempt++ {
		err = op(ctx)
		if err == nil {
			return attempt, nil
		}
		if !retryable(err) || attempt >= r.cfg.MaxAttempts {
			return attempt, err
		}

		wait := r.backoff(attempt)
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}
}

// backoff returns the jittered wait after the given attempt number.
func (r *Retrier) backoff(attempt int) time.Duration {
	wait := float64(r.cfg.InitialBackoff)
	for i := 1; i < attempt; i++ {
		wait *= r.cfg.Multiplier
		if wait >= float64(r.cfg.MaxBackoff) {
			wait = float64(r.cfg.MaxBackoff)
			break
		}
	}
	if r.cfg.JitterFactor > 0 {
		wait *= 1 + (rand.Float64()*2-1)*r.cfg.JitterFactor
	}
	if wait > float64(r.cfg.MaxBackoff) {
		wait = float64(r.cfg.MaxBackoff)
	}
	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait)
}
