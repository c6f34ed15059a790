// Package retry provides bounded exponential backoff for transient dependency
// failures.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"warmbot/pkg/boterrors"
)

// minDelay floors every computed backoff delay.
const minDelay = 100 * time.Millisecond

// Classifier determines if an error should be retried.
type Classifier func(error) bool

// Config defines retry behavior for a dependency. Immutable once created.
type Config struct {
	MaxRetries    int           `yaml:"max_retries"`    // Retries after the initial attempt
	BaseDelay     time.Duration `yaml:"base_delay"`     // Delay before the first retry
	MaxDelay      time.Duration `yaml:"max_delay"`      // Cap on the backoff delay
	BackoffFactor float64       `yaml:"backoff_factor"` // Multiplier for exponential backoff
	Jitter        bool          `yaml:"jitter"`         // Randomize delays to avoid thundering herds
}

// DefaultConfig provides reasonable defaults for retry behavior.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	MaxRetries:    3,
	BaseDelay:     1 * time.Second,
	MaxDelay:      60 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// Executor retries an operation according to its policy. One per dependency.
type Executor struct {
	name       string
	config     Config
	classifier Classifier

	sleep func(context.Context, time.Duration) bool
}

// New creates an executor for the named dependency. A nil classifier falls
// back to boterrors.Retryable; zero config fields fall back to DefaultConfig.
func New(name string, config Config, classifier Classifier) *Executor {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = DefaultConfig.BaseDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = DefaultConfig.MaxDelay
	}
	if config.BackoffFactor <= 0 {
		config.BackoffFactor = DefaultConfig.BackoffFactor
	}
	if classifier == nil {
		classifier = boterrors.Retryable
	}
	return &Executor{
		name:       name,
		config:     config,
		classifier: classifier,
		sleep:      sleepCtx,
	}
}

// Execute runs op, retrying classified-retryable failures with exponential
// backoff. Non-retryable failures propagate on first occurrence; exhausting
// the budget re-surfaces the last failure tagged retry-exhausted.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if !e.sleep(ctx, e.Delay(attempt-1)) {
				return boterrors.Wrap(boterrors.KindUnknown, ctx.Err(), "retry cancelled")
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !e.classifier(err) {
			return err
		}
	}

	return boterrors.MarkExhausted(lastErr, e.config.MaxRetries+1)
}

// Delay computes the backoff delay after failed attempt k (0-indexed):
// min(maxDelay, base×factor^k), jittered by up to ±25% when enabled, floored
// at 100ms.
func (e *Executor) Delay(attempt int) time.Duration {
	delay := time.Duration(float64(e.config.BaseDelay) * math.Pow(e.config.BackoffFactor, float64(attempt)))
	if delay > e.config.MaxDelay {
		delay = e.config.MaxDelay
	}

	if e.config.Jitter && delay > 0 {
		jitter := float64(delay) * 0.25
		delay += time.Duration((rand.Float64()*2 - 1) * jitter) //nolint:gosec // Jitter needs no crypto rand
	}

	if delay < minDelay {
		delay = minDelay
	}
	return delay
}

// Name returns the dependency name this executor serves.
func (e *Executor) Name() string {
	return e.name
}

// sleepCtx waits for d, returning false if ctx is done first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
