// Package protect composes the resilience primitives into a single protected
// call path for each external dependency.
package protect

import (
	"context"
	"errors"
	"time"

	"warmbot/pkg/boterrors"
	"warmbot/pkg/resilience/circuit"
	"warmbot/pkg/resilience/ratelimit"
	"warmbot/pkg/resilience/retry"
)

// CallObserver receives the outcome of every admitted call, for metrics.
type CallObserver interface {
	ObserveCall(dependency string, success bool, errorKind string, duration time.Duration)
}

// Invoker gates every call to one named dependency. The composition order is
// fixed: limiter.Acquire, then breaker.Call around retry.Execute, so a burst
// of retried-but-ultimately-successful calls counts as one breaker outcome and
// exhausting retries counts as one breaker failure.
type Invoker struct {
	name           string
	limiter        *ratelimit.Limiter
	breaker        *circuit.Breaker
	retrier        *retry.Executor // nil disables retries (e.g. reply posting)
	acquireTimeout time.Duration   // 0 waits until ctx is done
	observer       CallObserver    // nil disables call metrics
}

// NewInvoker composes the primitives for one dependency. retrier may be nil
// for operations that must never be replayed.
func NewInvoker(name string, limiter *ratelimit.Limiter, breaker *circuit.Breaker, retrier *retry.Executor) *Invoker {
	return &Invoker{
		name:    name,
		limiter: limiter,
		breaker: breaker,
		retrier: retrier,
	}
}

// WithAcquireTimeout bounds how long Do waits for a rate limit token.
func (i *Invoker) WithAcquireTimeout(d time.Duration) *Invoker {
	i.acquireTimeout = d
	return i
}

// WithObserver registers a call-outcome observer.
func (i *Invoker) WithObserver(o CallObserver) *Invoker {
	i.observer = o
	return i
}

// Do executes op on the protected call path, consuming one token. The returned
// error is always a classified *boterrors.Error; raw failures never reach the
// caller.
func (i *Invoker) Do(ctx context.Context, op func(context.Context) error) error {
	return i.DoWithCost(ctx, 1, op)
}

// DoWithCost is Do with an explicit token cost.
func (i *Invoker) DoWithCost(ctx context.Context, cost float64, op func(context.Context) error) error {
	if !i.limiter.Acquire(ctx, cost, i.acquireTimeout) {
		if ctx.Err() != nil {
			return boterrors.Wrap(boterrors.KindUnknown, ctx.Err(), i.name+" acquisition interrupted")
		}
		return boterrors.New(boterrors.KindThrottled, i.name+" rate limit acquisition timed out")
	}

	start := time.Now()
	err := i.breaker.Call(ctx, func(ctx context.Context) error {
		if i.retrier == nil {
			return op(ctx)
		}
		return i.retrier.Execute(ctx, op)
	})
	if i.observer != nil {
		kind := ""
		if err != nil {
			kind = boterrors.KindOf(err).String()
		}
		i.observer.ObserveCall(i.name, err == nil, kind, time.Since(start))
	}
	if err == nil {
		return nil
	}

	var be *boterrors.Error
	if errors.As(err, &be) {
		return err
	}
	return boterrors.Wrap(boterrors.KindOf(err), err, i.name+" call failed")
}

// Name returns the dependency name this invoker protects.
func (i *Invoker) Name() string {
	return i.name
}

// BreakerState exposes the breaker state for health reporting.
func (i *Invoker) BreakerState() circuit.State {
	return i.breaker.GetState()
}

// LimiterStats exposes the limiter snapshot for health reporting.
func (i *Invoker) LimiterStats() ratelimit.Stats {
	return i.limiter.GetStats()
}
