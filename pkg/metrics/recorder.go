// Package metrics provides metrics recording for bot operations.
package metrics

import "time"

// Recorder defines the interface for recording operational metrics.
type Recorder interface {
	// ObserveCall records one protected call to a dependency.
	ObserveCall(dependency string, success bool, errorKind string, duration time.Duration)

	// SetBreakerState records the current breaker state for a dependency
	// (0 closed, 1 half-open, 2 open).
	SetBreakerState(dependency string, state int)

	// IncBreakerTransition counts a breaker state transition.
	IncBreakerTransition(dependency, to string)

	// SetLimiterTokens records the current token level of a limiter.
	SetLimiterTokens(dependency string, tokens float64)

	// IncConversationTransition counts a conversation status change.
	IncConversationTransition(status, reason string)

	// IncReplySent counts an outbound reply.
	IncReplySent()

	// IncEmergency counts an analysis flagged as an emergency.
	IncEmergency()

	// ObserveCycle records the duration of one scan cycle.
	ObserveCycle(duration time.Duration)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are
// disabled.
type NoopRecorder struct{}

// NewNoopRecorder creates a no-op metrics recorder.
func NewNoopRecorder() *NoopRecorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) ObserveCall(string, bool, string, time.Duration) {}
func (n *NoopRecorder) SetBreakerState(string, int)                     {}
func (n *NoopRecorder) IncBreakerTransition(string, string)             {}
func (n *NoopRecorder) SetLimiterTokens(string, float64)                {}
func (n *NoopRecorder) IncConversationTransition(string, string)        {}
func (n *NoopRecorder) IncReplySent()                                   {}
func (n *NoopRecorder) IncEmergency()                                   {}
func (n *NoopRecorder) ObserveCycle(time.Duration)                      {}
