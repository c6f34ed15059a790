package circuit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"warmbot/pkg/boterrors"
)

var errBoom = errors.New("boom")

func fail(context.Context) error { return errBoom }
func ok(context.Context) error   { return nil }

// newTestBreaker returns a breaker with a controllable clock.
func newTestBreaker(cfg Config) (*Breaker, *time.Time) {
	b := New("test-dep", cfg)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return clock }
	return b, &clock
}

func TestBreakerTripsAtFailureThreshold(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3, Cooldown: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := b.Call(ctx, fail); !errors.Is(err, errBoom) {
			t.Fatalf("Call() error = %v, want %v", err, errBoom)
		}
		if got := b.GetState(); got != Closed {
			t.Fatalf("after %d failures state = %v, want %v", i+1, got, Closed)
		}
	}

	if err := b.Call(ctx, fail); !errors.Is(err, errBoom) {
		t.Fatalf("Call() error = %v, want %v", err, errBoom)
	}
	if got := b.GetState(); got != Open {
		t.Errorf("after 3 failures state = %v, want %v", got, Open)
	}
}

func TestBreakerRejectsWithoutInvokingOp(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1, Cooldown: time.Minute})
	ctx := context.Background()

	_ = b.Call(ctx, fail)
	if got := b.GetState(); got != Open {
		t.Fatalf("state = %v, want %v", got, Open)
	}

	invoked := 0
	err := b.Call(ctx, func(context.Context) error {
		invoked++
		return nil
	})
	if !boterrors.IsCircuitOpen(err) {
		t.Errorf("Call() while open error = %v, want circuit_open", err)
	}
	if invoked != 0 {
		t.Errorf("op invoked %d times while open, want 0", invoked)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3, Cooldown: time.Minute})
	ctx := context.Background()

	_ = b.Call(ctx, fail)
	_ = b.Call(ctx, fail)
	_ = b.Call(ctx, ok)
	_ = b.Call(ctx, fail)
	_ = b.Call(ctx, fail)

	if got := b.GetState(); got != Closed {
		t.Errorf("state = %v, want %v (success should reset the failure streak)", got, Closed)
	}
	if got := b.GetStats().ConsecutiveFailures; got != 2 {
		t.Errorf("ConsecutiveFailures = %d, want 2", got)
	}
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 2, Cooldown: time.Minute})
	ctx := context.Background()

	_ = b.Call(ctx, fail)

	*clock = clock.Add(30 * time.Second)
	if err := b.Call(ctx, ok); !boterrors.IsCircuitOpen(err) {
		t.Fatalf("Call() before cooldown error = %v, want circuit_open", err)
	}

	*clock = clock.Add(31 * time.Second)
	if err := b.Call(ctx, ok); err != nil {
		t.Fatalf("Call() after cooldown error = %v, want nil", err)
	}
	if got := b.GetState(); got != HalfOpen {
		t.Errorf("state = %v, want %v", got, HalfOpen)
	}

	if err := b.Call(ctx, ok); err != nil {
		t.Fatalf("Call() error = %v, want nil", err)
	}
	if got := b.GetState(); got != Closed {
		t.Errorf("state after %d probe successes = %v, want %v", 2, got, Closed)
	}
	if got := b.GetStats().ConsecutiveFailures; got != 0 {
		t.Errorf("ConsecutiveFailures after close = %d, want 0", got)
	}
}

func TestBreakerHalfOpenFailureReTrips(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 2, Cooldown: time.Minute})
	ctx := context.Background()

	_ = b.Call(ctx, fail)
	*clock = clock.Add(2 * time.Minute)

	if err := b.Call(ctx, fail); !errors.Is(err, errBoom) {
		t.Fatalf("probe error = %v, want %v", err, errBoom)
	}
	if got := b.GetState(); got != Open {
		t.Errorf("state after failed probe = %v, want %v", got, Open)
	}

	// The re-trip starts a fresh cooldown from the probe failure.
	if err := b.Call(ctx, ok); !boterrors.IsCircuitOpen(err) {
		t.Errorf("Call() after re-trip error = %v, want circuit_open", err)
	}
}

func TestBreakerHalfOpenProbeSlotLimit(t *testing.T) {
	b, clock := newTestBreaker(Config{
		FailureThreshold:  1,
		SuccessThreshold:  5,
		Cooldown:          time.Minute,
		MaxHalfOpenProbes: 2,
	})
	ctx := context.Background()

	_ = b.Call(ctx, fail)
	*clock = clock.Add(2 * time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Call(ctx, func(context.Context) error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
	}
	<-started
	<-started

	// Both probe slots busy. A third call is rejected immediately.
	if err := b.Call(ctx, ok); !boterrors.IsCircuitOpen(err) {
		t.Errorf("Call() at probe limit error = %v, want circuit_open", err)
	}

	close(release)
	wg.Wait()
}

func TestBreakerReset(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1, Cooldown: time.Hour})
	ctx := context.Background()

	_ = b.Call(ctx, fail)
	if got := b.GetState(); got != Open {
		t.Fatalf("state = %v, want %v", got, Open)
	}

	b.Reset()
	if got := b.GetState(); got != Closed {
		t.Errorf("state after Reset = %v, want %v", got, Closed)
	}
	if err := b.Call(ctx, ok); err != nil {
		t.Errorf("Call() after Reset error = %v, want nil", err)
	}
}

// TestBreakerStateChangeObserver also pins down ordering: the observer fires
// before Call returns, so transitions arrive in the order they happened even
// when several land back to back.
func TestBreakerStateChangeObserver(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 1, Cooldown: time.Minute})

	var transitions []string
	b.OnStateChange(func(name string, from, to State) {
		if name != "test-dep" {
			t.Errorf("observer name = %q, want %q", name, "test-dep")
		}
		transitions = append(transitions, from.String()+">"+to.String())
	})

	ctx := context.Background()
	_ = b.Call(ctx, fail)
	*clock = clock.Add(2 * time.Minute)
	_ = b.Call(ctx, ok) // half-open probe succeeds and closes in one call

	want := []string{"CLOSED>OPEN", "OPEN>HALF_OPEN", "HALF_OPEN>CLOSED"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestBreakerDefaultsApplied(t *testing.T) {
	b := New("defaults", Config{})
	if b.config != DefaultConfig {
		t.Errorf("zero config = %+v, want %+v", b.config, DefaultConfig)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{Closed: "CLOSED", Open: "OPEN", HalfOpen: "HALF_OPEN", State(99): "UNKNOWN"}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
