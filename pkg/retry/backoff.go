package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"dlqueue/pkg/config"
	errs "dlqueue/pkg/errors"
)

// BackoffStrategy computes the delay before a retry
type BackoffStrategy interface {
	// NextDelay returns the delay before attempt+1, attempt counting from 1
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff with jitter
type ExponentialBackoff struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// JitterFactor adds up to +/- this fraction of the delay (0.0 to 1.0)
	JitterFactor float64
}

// DefaultExponentialBackoff returns a backoff with sensible defaults
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// BackoffFromConfig builds the exponential backoff described by the retry
// section of the configuration.
func BackoffFromConfig(cfg config.RetryConfig) *ExponentialBackoff {
	b := &ExponentialBackoff{
		BaseDelay:  cfg.InitialDelay,
		MaxDelay:   cfg.MaxDelay,
		Multiplier: cfg.Multiplier,
	}
	if cfg.Jitter {
		b.JitterFactor = 0.1
	}
	return b
}

func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	mult := eb.Multiplier
	if mult < 1 {
		mult = 1
	}

	delay := float64(eb.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if eb.MaxDelay > 0 && delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}
	return jitter(delay, eb.JitterFactor)
}

// LinearBackoff grows the delay by Increment each attempt
type LinearBackoff struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Increment    time.Duration
	JitterFactor float64
}

func (lb *LinearBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := float64(lb.BaseDelay + lb.Increment*time.Duration(attempt-1))
	if lb.MaxDelay > 0 && delay > float64(lb.MaxDelay) {
		delay = float64(lb.MaxDelay)
	}
	return jitter(delay, lb.JitterFactor)
}

// ConstantBackoff implements constant delay backoff
type ConstantBackoff struct {
	Delay time.Duration
}

func (cb *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return cb.Delay
}

func jitter(delay, factor float64) time.Duration {
	if factor > 0 {
		j := delay * factor
		delay += (rand.Float64() * 2 * j) - j
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Wait waits for the specified duration or until context is cancelled
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrorTypeBackoff picks a strategy by the type of the failed attempt's error.
// Rate limited hosts get longer, gentler delays.
type ErrorTypeBackoff struct {
	ByType  map[errs.ErrorType]BackoffStrategy
	Default BackoffStrategy
}

// NewErrorTypeBackoff uses base for everything except rate limits
func NewErrorTypeBackoff(base BackoffStrategy) *ErrorTypeBackoff {
	if base == nil {
		base = DefaultExponentialBackoff()
	}
	return &ErrorTypeBackoff{
		ByType: map[errs.ErrorType]BackoffStrategy{
			errs.ErrorTypeRateLimit: &ExponentialBackoff{
				BaseDelay:    30 * time.Second,
				MaxDelay:     5 * time.Minute,
				Multiplier:   1.5,
				JitterFactor: 0.3,
			},
			errs.ErrorTypeServerError: &ExponentialBackoff{
				BaseDelay:    5 * time.Second,
				MaxDelay:     60 * time.Second,
				Multiplier:   2.0,
				JitterFactor: 0.1,
			},
		},
		Default: base,
	}
}

// For returns the strategy for err
func (etb *ErrorTypeBackoff) For(err error) BackoffStrategy {
	if s, ok := etb.ByType[errs.TypeOf(err)]; ok {
		return s
	}
	return etb.Default
}
