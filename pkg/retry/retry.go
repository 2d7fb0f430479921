// Package retry provides retry logic with exponential backoff for calls to
// remote blob sources
package retry

import (
	"context"
	stderr "errors"
	"math"
	"math/rand"
	"time"

	"github.com/thomasrockhu-codecov/cradle/pkg/errors"
)

// Config defines retry behavior configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`

	// MaxDelay caps the delay between retries
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// Multiplier is the factor by which delay increases after each retry
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`

	// Jitter spreads delays by up to 20% either way
	Jitter bool `yaml:"jitter" json:"jitter"`

	// RetryableErrors lists codes retried even when the error is not
	// flagged retryable
	RetryableErrors []errors.ErrorCode `yaml:"retryable_errors" json:"retryable_errors"`

	// OnRetry is called before each retry attempt
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-" json:"-"`
}

// DefaultConfig returns the default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		RetryableErrors: []errors.ErrorCode{
			errors.ErrCodeStorageRead,
			errors.ErrCodeOperationTimeout,
		},
	}
}

// Retryer handles retry logic with exponential backoff
type Retryer struct {
	config Config
}

// New creates a Retryer; zero config fields take defaults
func New(config Config) *Retryer {
	defaults := DefaultConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = defaults.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaults.MaxDelay
	}
	if config.Multiplier <= 0 {
		config.Multiplier = defaults.Multiplier
	}

	return &Retryer{config: config}
}

// Do calls fn until it succeeds, returns an error that is not retryable, or
// runs out of attempts. The last error from fn is returned unchanged so
// callers can still match its code.
func (r *Retryer) Do(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return canceled(err, attempt-1, lastErr)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == r.config.MaxAttempts || !r.ShouldRetry(err) {
			return err
		}

		delay := r.Delay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return canceled(ctx.Err(), attempt, lastErr)
		case <-timer.C:
		}
	}

	return lastErr
}

// ShouldRetry reports whether err is worth another attempt. Only cradle
// errors are retried; context errors never are.
func (r *Retryer) ShouldRetry(err error) bool {
	if stderr.Is(err, context.Canceled) || stderr.Is(err, context.DeadlineExceeded) {
		return false
	}

	var ce *errors.CradleError
	if !stderr.As(err, &ce) {
		return false
	}
	if ce.Retryable {
		return true
	}
	for _, code := range r.config.RetryableErrors {
		if ce.Code == code {
			return true
		}
	}
	return false
}

// Delay returns the wait before retry number attempt
func (r *Retryer) Delay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.Jitter {
		delay += delay * 0.2 * (rand.Float64()*2 - 1)
	}

	return time.Duration(delay)
}

// MaxAttempts returns the configured attempt limit
func (r *Retryer) MaxAttempts() int {
	return r.config.MaxAttempts
}

// WithOnRetry returns a copy of r that calls callback before each retry
func (r *Retryer) WithOnRetry(callback func(attempt int, err error, delay time.Duration)) *Retryer {
	config := r.config
	config.OnRetry = callback
	return New(config)
}

func canceled(ctxErr error, attempts int, lastErr error) error {
	err := errors.Wrap(errors.ErrCodeOperationCanceled, "retry canceled", ctxErr).
		WithComponent("retry").
		WithDetail("attempts", attempts)
	if lastErr != nil {
		err = err.WithDetail("last_error", lastErr.Error())
	}
	return err
}
