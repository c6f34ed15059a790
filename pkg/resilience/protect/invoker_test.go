package protect

import (
	"context"
	"errors"
	"testing"
	"time"

	"warmbot/pkg/boterrors"
	"warmbot/pkg/resilience/circuit"
	"warmbot/pkg/resilience/ratelimit"
	"warmbot/pkg/resilience/retry"
)

// fastDep builds a dependency config that never blocks a test: generous
// bucket, millisecond retry delays.
func fastDep(maxRetries, failureThreshold int) DependencyConfig {
	return DependencyConfig{
		Breaker: circuit.Config{
			FailureThreshold:  failureThreshold,
			SuccessThreshold:  2,
			Cooldown:          time.Minute,
			MaxHalfOpenProbes: 3,
		},
		Limiter: ratelimit.Config{Rate: 1000, Burst: 1000},
		Retry: retry.Config{
			MaxRetries:    maxRetries,
			BaseDelay:     time.Millisecond,
			MaxDelay:      5 * time.Millisecond,
			BackoffFactor: 2.0,
		},
	}
}

func fastInvoker(maxRetries, failureThreshold int) *Invoker {
	dep := fastDep(maxRetries, failureThreshold)
	return NewInvoker(
		"test-dep",
		ratelimit.New("test-dep", dep.Limiter),
		circuit.New("test-dep", dep.Breaker),
		retry.New("test-dep", dep.Retry, nil),
	)
}

func TestDoSuccess(t *testing.T) {
	inv := fastInvoker(2, 3)

	calls := 0
	err := inv.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("op called %d times, want 1", calls)
	}
}

func TestDoRetriesTransientFailures(t *testing.T) {
	inv := fastInvoker(3, 5)

	calls := 0
	err := inv.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return boterrors.New(boterrors.KindTransient, "flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("op called %d times, want 3", calls)
	}
	if got := inv.BreakerState(); got != circuit.Closed {
		t.Errorf("breaker state after retried success = %v, want %v", got, circuit.Closed)
	}
}

func TestDoExhaustedRetriesCountAsOneBreakerFailure(t *testing.T) {
	// Breaker trips at 2 failures; each Do exhausts 2 retries (3 op calls)
	// but must register as a single breaker outcome.
	inv := fastInvoker(2, 2)
	ctx := context.Background()
	transient := func(context.Context) error {
		return boterrors.New(boterrors.KindTransient, "down")
	}

	if err := inv.Do(ctx, transient); !boterrors.IsExhausted(err) {
		t.Fatalf("first Do() error = %v, want exhausted", err)
	}
	if got := inv.BreakerState(); got != circuit.Closed {
		t.Fatalf("breaker state after one exhausted Do = %v, want %v", got, circuit.Closed)
	}

	if err := inv.Do(ctx, transient); !boterrors.IsExhausted(err) {
		t.Fatalf("second Do() error = %v, want exhausted", err)
	}
	if got := inv.BreakerState(); got != circuit.Open {
		t.Errorf("breaker state after two exhausted Dos = %v, want %v", got, circuit.Open)
	}
}

func TestDoOpenBreakerSkipsOp(t *testing.T) {
	inv := fastInvoker(0, 1)
	ctx := context.Background()

	_ = inv.Do(ctx, func(context.Context) error {
		return boterrors.New(boterrors.KindTransient, "down")
	})
	if got := inv.BreakerState(); got != circuit.Open {
		t.Fatalf("breaker state = %v, want %v", got, circuit.Open)
	}

	calls := 0
	err := inv.Do(ctx, func(context.Context) error {
		calls++
		return nil
	})
	if !boterrors.IsCircuitOpen(err) {
		t.Errorf("Do() while open error = %v, want circuit_open", err)
	}
	if calls != 0 {
		t.Errorf("op called %d times while open, want 0", calls)
	}
}

func TestDoThrottledOnAcquireTimeout(t *testing.T) {
	dep := fastDep(0, 3)
	dep.Limiter = ratelimit.Config{Rate: 0.001, Burst: 1}
	limiter := ratelimit.New("test-dep", dep.Limiter)
	inv := NewInvoker("test-dep", limiter, circuit.New("test-dep", dep.Breaker), nil).
		WithAcquireTimeout(20 * time.Millisecond)
	ctx := context.Background()

	if err := inv.Do(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Do() with full bucket error = %v, want nil", err)
	}

	calls := 0
	err := inv.Do(ctx, func(context.Context) error {
		calls++
		return nil
	})
	if got := boterrors.KindOf(err); got != boterrors.KindThrottled {
		t.Errorf("Do() on empty bucket error kind = %v, want %v", got, boterrors.KindThrottled)
	}
	if calls != 0 {
		t.Errorf("op called %d times without a token, want 0", calls)
	}
}

func TestDoCancelledDuringAcquire(t *testing.T) {
	dep := fastDep(0, 3)
	dep.Limiter = ratelimit.Config{Rate: 0.001, Burst: 1}
	limiter := ratelimit.New("test-dep", dep.Limiter)
	if !limiter.TryAcquire(1) {
		t.Fatal("draining TryAcquire failed")
	}
	inv := NewInvoker("test-dep", limiter, circuit.New("test-dep", dep.Breaker), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := inv.Do(ctx, func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("Do() error = nil, want cancellation error")
	}
	if got := boterrors.KindOf(err); got != boterrors.KindUnknown {
		t.Errorf("cancelled Do() error kind = %v, want %v", got, boterrors.KindUnknown)
	}
}

func TestDoNilRetrierNeverRetries(t *testing.T) {
	dep := fastDep(0, 5)
	inv := NewInvoker(
		"test-dep",
		ratelimit.New("test-dep", dep.Limiter),
		circuit.New("test-dep", dep.Breaker),
		nil,
	)

	calls := 0
	err := inv.Do(context.Background(), func(context.Context) error {
		calls++
		return boterrors.New(boterrors.KindTransient, "down")
	})
	if err == nil {
		t.Fatal("Do() error = nil, want transient error")
	}
	if calls != 1 {
		t.Errorf("op called %d times with nil retrier, want 1", calls)
	}
}

func TestDoAlwaysReturnsClassifiedError(t *testing.T) {
	inv := fastInvoker(0, 5)

	raw := errors.New("some raw failure")
	err := inv.Do(context.Background(), func(context.Context) error { return raw })
	if err == nil {
		t.Fatal("Do() error = nil, want classified error")
	}
	var be *boterrors.Error
	if !errors.As(err, &be) {
		t.Fatalf("Do() error type = %T, want *boterrors.Error", err)
	}
	if !errors.Is(err, raw) {
		t.Error("classified error lost the underlying cause")
	}
}

func TestRegistryPostSharesPlatformBreaker(t *testing.T) {
	cfg := Config{
		Platform: fastDep(0, 1),
		AI:       fastDep(0, 5),
		Post:     fastDep(0, 1),
	}
	reg := NewRegistry(cfg)
	ctx := context.Background()

	_ = reg.Platform().Do(ctx, func(context.Context) error {
		return boterrors.New(boterrors.KindTransient, "risk control")
	})
	if got := reg.Platform().BreakerState(); got != circuit.Open {
		t.Fatalf("platform breaker state = %v, want %v", got, circuit.Open)
	}

	calls := 0
	err := reg.Post().Do(ctx, func(context.Context) error {
		calls++
		return nil
	})
	if !boterrors.IsCircuitOpen(err) {
		t.Errorf("Post().Do() error = %v, want circuit_open (shared breaker)", err)
	}
	if calls != 0 {
		t.Errorf("post op called %d times, want 0", calls)
	}

	// The AI path has its own breaker and stays available.
	if err := reg.AI().Do(ctx, func(context.Context) error { return nil }); err != nil {
		t.Errorf("AI().Do() error = %v, want nil", err)
	}
}

type recordedCall struct {
	dependency string
	success    bool
	errorKind  string
}

type fakeObserver struct {
	calls []recordedCall
}

func (f *fakeObserver) ObserveCall(dependency string, success bool, errorKind string, _ time.Duration) {
	f.calls = append(f.calls, recordedCall{dependency, success, errorKind})
}

func TestObserveReportsCallOutcomes(t *testing.T) {
	reg := NewRegistry(Config{
		Platform: fastDep(0, 5),
		AI:       fastDep(0, 5),
		Post:     fastDep(0, 5),
	})
	obs := &fakeObserver{}
	reg.Observe(obs, nil)
	ctx := context.Background()

	_ = reg.Platform().Do(ctx, func(context.Context) error { return nil })
	_ = reg.AI().Do(ctx, func(context.Context) error {
		return boterrors.New(boterrors.KindTransient, "down")
	})

	if len(obs.calls) != 2 {
		t.Fatalf("observed %d calls, want 2", len(obs.calls))
	}
	if got := obs.calls[0]; got.dependency != DepPlatform || !got.success || got.errorKind != "" {
		t.Errorf("first call = %+v, want platform success", got)
	}
	if got := obs.calls[1]; got.dependency != DepAI || got.success || got.errorKind != "transient" {
		t.Errorf("second call = %+v, want ai transient failure", got)
	}
}

func TestDefaultRegistryConfigTuning(t *testing.T) {
	cfg := DefaultRegistryConfig()

	if cfg.Platform.Breaker.FailureThreshold != 3 {
		t.Errorf("platform FailureThreshold = %d, want 3", cfg.Platform.Breaker.FailureThreshold)
	}
	if cfg.Post.Retry.MaxRetries != 0 {
		t.Errorf("post MaxRetries = %d, want 0 (posting is never replayed)", cfg.Post.Retry.MaxRetries)
	}
	if cfg.Post.Limiter.Rate >= cfg.Platform.Limiter.Rate {
		t.Errorf("post rate %v not stricter than platform rate %v",
			cfg.Post.Limiter.Rate, cfg.Platform.Limiter.Rate)
	}
	if got := len(NewRegistry(cfg).Invokers()); got != 3 {
		t.Errorf("Invokers() returned %d entries, want 3", got)
	}
}
