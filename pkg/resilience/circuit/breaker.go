// Package circuit provides circuit breaker functionality for calls to external
// dependencies.
package circuit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"warmbot/pkg/boterrors"
)

// State represents the current state of a circuit breaker.
type State int

// Circuit breaker states for managing dependency failure patterns.
const (
	Closed   State = iota // Normal operation
	Open                  // Failing, reject requests
	HalfOpen              // Probing whether the dependency recovered
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config defines configuration for circuit breaker behavior.
type Config struct {
	FailureThreshold  int           `yaml:"failure_threshold"`    // Consecutive failures before opening
	SuccessThreshold  int           `yaml:"success_threshold"`    // Half-open successes needed to close
	Cooldown          time.Duration `yaml:"cooldown"`             // Open duration before half-open probing
	MaxHalfOpenProbes int           `yaml:"max_half_open_probes"` // Concurrent probes allowed while half-open
}

// DefaultConfig provides reasonable defaults for circuit breaker behavior.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	FailureThreshold:  5,
	SuccessThreshold:  2,
	Cooldown:          60 * time.Second,
	MaxHalfOpenProbes: 3,
}

// StateChangeFunc observes breaker state transitions for health reporting.
type StateChangeFunc func(name string, from, to State)

// Stats is a point-in-time snapshot of breaker counters.
type Stats struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	HalfOpenSuccesses   int       `json:"half_open_successes"`
	ProbesInFlight      int       `json:"probes_in_flight"`
	LastFailureAt       time.Time `json:"last_failure_at"`
}

// Breaker guards a single named dependency. One instance per dependency,
// shared by every caller of that dependency.
type Breaker struct {
	name   string
	config Config

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	halfOpenSuccesses   int
	probesInFlight      int
	lastFailureAt       time.Time

	onStateChange StateChangeFunc
	pending       notification

	now func() time.Time
}

// notification carries a state change out of the locked section so the
// observer runs with the breaker lock released.
type notification struct {
	fn       StateChangeFunc
	from, to State
}

func (n notification) fire(name string) {
	if n.fn != nil {
		n.fn(name, n.from, n.to)
	}
}

// New creates a circuit breaker for the named dependency. Zero config fields
// fall back to DefaultConfig values.
func New(name string, config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = DefaultConfig.SuccessThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultConfig.Cooldown
	}
	if config.MaxHalfOpenProbes <= 0 {
		config.MaxHalfOpenProbes = DefaultConfig.MaxHalfOpenProbes
	}
	return &Breaker{
		name:   name,
		config: config,
		state:  Closed,
		now:    time.Now,
	}
}

// OnStateChange registers an observer for state transitions. The observer is
// invoked synchronously after each transition, outside the breaker lock, and
// must not call back into the breaker.
func (b *Breaker) OnStateChange(fn StateChangeFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// Call executes op under breaker protection. When the breaker is open (or
// half-open with all probe slots taken) it returns a circuit_open error
// immediately and op is never invoked. Only the bookkeeping runs under the
// breaker lock; op itself executes unlocked.
func (b *Breaker) Call(ctx context.Context, op func(context.Context) error) error {
	probing, err := b.admit()
	if err != nil {
		return err
	}

	opErr := op(ctx)
	b.record(opErr == nil, probing)
	return opErr
}

// admit decides whether a call may proceed, moving Open to HalfOpen once the
// cooldown elapsed. Returns whether the call occupies a half-open probe slot.
func (b *Breaker) admit() (probing bool, err error) {
	b.mu.Lock()

	if b.state == Open {
		if b.now().Sub(b.lastFailureAt) < b.config.Cooldown {
			state := b.state
			b.mu.Unlock()
			return false, boterrors.New(boterrors.KindCircuitOpen,
				fmt.Sprintf("breaker %s is %s", b.name, state))
		}
		b.transition(HalfOpen)
	}

	if b.state == HalfOpen {
		if b.probesInFlight >= b.config.MaxHalfOpenProbes {
			b.mu.Unlock()
			return false, boterrors.New(boterrors.KindCircuitOpen,
				fmt.Sprintf("breaker %s half-open probe limit reached", b.name))
		}
		b.probesInFlight++
		n := b.takePending()
		b.mu.Unlock()
		n.fire(b.name)
		return true, nil
	}

	b.mu.Unlock()
	return false, nil
}

// takePending drains the transition recorded under the lock, if any. Caller
// holds the lock and fires the result after unlocking.
func (b *Breaker) takePending() notification {
	n := b.pending
	b.pending = notification{}
	return n
}

// record books the outcome of an admitted call.
func (b *Breaker) record(success, probing bool) {
	b.mu.Lock()

	if probing && b.probesInFlight > 0 {
		b.probesInFlight--
	}

	if success {
		b.onSuccess(probing)
	} else {
		b.onFailure()
	}

	n := b.takePending()
	b.mu.Unlock()
	n.fire(b.name)
}

func (b *Breaker) onSuccess(probing bool) {
	switch b.state {
	case Closed:
		b.consecutiveFailures = 0
	case HalfOpen:
		if !probing {
			// Call admitted before the last re-trip; its success says nothing
			// about the current probe round.
			return
		}
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.config.SuccessThreshold {
			b.consecutiveFailures = 0
			b.transition(Closed)
		}
	case Open:
		// A call admitted pre-trip finished after re-trip; ignore.
	}
}

func (b *Breaker) onFailure() {
	b.consecutiveFailures++
	b.lastFailureAt = b.now()

	switch b.state {
	case HalfOpen:
		// One half-open failure re-trips.
		b.transition(Open)
	case Closed:
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.transition(Open)
		}
	case Open:
	}
}

// transition moves to a new state and records the change for notification.
// Caller holds the lock.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	switch to {
	case HalfOpen:
		b.halfOpenSuccesses = 0
		b.probesInFlight = 0
	case Open:
		b.halfOpenSuccesses = 0
	case Closed:
		b.halfOpenSuccesses = 0
		b.probesInFlight = 0
	}

	if b.onStateChange != nil {
		b.pending = notification{fn: b.onStateChange, from: from, to: to}
	}
}

// GetState returns the current circuit breaker state.
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// Reset manually returns the breaker to closed state with cleared counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.consecutiveFailures = 0
	b.transition(Closed)
	n := b.takePending()
	b.mu.Unlock()
	n.fire(b.name)
}

// GetStats returns a snapshot of the breaker counters.
func (b *Breaker) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:                b.name,
		State:               b.state.String(),
		ConsecutiveFailures: b.consecutiveFailures,
		HalfOpenSuccesses:   b.halfOpenSuccesses,
		ProbesInFlight:      b.probesInFlight,
		LastFailureAt:       b.lastFailureAt,
	}
}
