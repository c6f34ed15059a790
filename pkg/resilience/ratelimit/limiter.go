// Package ratelimit provides token bucket rate limiting for calls to external
// dependencies.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sliceInterval bounds a single wait so a shutdown signal interrupts a pending
// acquisition within one slice.
const sliceInterval = 100 * time.Millisecond

// Config defines the token bucket for a dependency.
type Config struct {
	Rate  float64 `yaml:"rate"`  // Tokens generated per second
	Burst float64 `yaml:"burst"` // Bucket capacity
}

// DefaultConfig provides a conservative default bucket.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	Rate:  1.0,
	Burst: 5,
}

// Stats is a point-in-time snapshot of the limiter.
type Stats struct {
	Name   string  `json:"name"`
	Tokens float64 `json:"tokens"`
	Rate   float64 `json:"rate"`
	Burst  float64 `json:"burst"`
}

// Limiter is a token bucket guarding a single named dependency. One instance
// per dependency, shared by every caller of that dependency.
type Limiter struct {
	name   string
	config Config

	mu           sync.Mutex
	tokens       float64
	lastRefillAt time.Time

	now func() time.Time
}

// New creates a token bucket limiter for the named dependency, starting with a
// full bucket. Zero config fields fall back to DefaultConfig values.
func New(name string, config Config) *Limiter {
	if config.Rate <= 0 {
		config.Rate = DefaultConfig.Rate
	}
	if config.Burst <= 0 {
		config.Burst = DefaultConfig.Burst
	}
	return &Limiter{
		name:         name,
		config:       config,
		tokens:       config.Burst,
		lastRefillAt: time.Now(),
		now:          time.Now,
	}
}

// Acquire blocks until cost tokens are available, then consumes them and
// returns true. It waits in bounded slices so ctx cancellation interrupts
// promptly; a cancelled context or an exceeded timeout returns false. A
// timeout of zero means wait indefinitely (until ctx is done).
func (l *Limiter) Acquire(ctx context.Context, cost float64, timeout time.Duration) bool {
	if cost <= 0 {
		cost = 1
	}
	start := l.now()

	for {
		l.mu.Lock()
		l.refill()

		if l.tokens >= cost {
			l.tokens -= cost
			l.mu.Unlock()
			return true
		}

		wait := time.Duration((cost - l.tokens) / l.config.Rate * float64(time.Second))
		l.mu.Unlock()

		if timeout > 0 && l.now().Sub(start)+wait > timeout {
			return false
		}

		if wait > sliceInterval {
			wait = sliceInterval
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
}

// TryAcquire consumes cost tokens only if immediately available.
func (l *Limiter) TryAcquire(cost float64) bool {
	if cost <= 0 {
		cost = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens >= cost {
		l.tokens -= cost
		return true
	}
	return false
}

// refill adds tokens for the elapsed time, capped at burst. Caller holds the lock.
func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastRefillAt).Seconds()
	l.lastRefillAt = now

	l.tokens += elapsed * l.config.Rate
	if l.tokens > l.config.Burst {
		l.tokens = l.config.Burst
	}
}

// Name returns the dependency name this limiter guards.
func (l *Limiter) Name() string {
	return l.name
}

// GetStats returns a snapshot of the limiter (refilled to now).
func (l *Limiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return Stats{
		Name:   l.name,
		Tokens: l.tokens,
		Rate:   l.config.Rate,
		Burst:  l.config.Burst,
	}
}
