// Package metrics provides Prometheus-based metrics recording.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	callsTotal              *prometheus.CounterVec
	callDuration            *prometheus.HistogramVec
	breakerState            *prometheus.GaugeVec
	breakerTransitionsTotal *prometheus.CounterVec
	limiterTokens           *prometheus.GaugeVec
	conversationTransitions *prometheus.CounterVec
	repliesSentTotal        prometheus.Counter
	emergenciesTotal        prometheus.Counter
	cycleDuration           prometheus.Histogram
}

// NewPrometheusRecorder creates a new Prometheus-based metrics recorder and
// registers its collectors with the default registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		callsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warmbot_dependency_calls_total",
				Help: "Total protected calls by dependency, status, and error kind",
			},
			[]string{"dependency", "status", "error_kind"},
		),
		callDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warmbot_dependency_call_duration_seconds",
				Help:    "Duration of protected dependency calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"dependency"},
		),
		breakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "warmbot_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"dependency"},
		),
		breakerTransitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warmbot_breaker_transitions_total",
				Help: "Circuit breaker state transitions by target state",
			},
			[]string{"dependency", "to"},
		),
		limiterTokens: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "warmbot_limiter_tokens",
				Help: "Current token level of each rate limiter bucket",
			},
			[]string{"dependency"},
		),
		conversationTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warmbot_conversation_transitions_total",
				Help: "Conversation status changes by target status and reason",
			},
			[]string{"status", "reason"},
		),
		repliesSentTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "warmbot_replies_sent_total",
				Help: "Total replies posted to the platform",
			},
		),
		emergenciesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "warmbot_emergencies_total",
				Help: "Total comments flagged as emergencies by analysis",
			},
		),
		cycleDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "warmbot_cycle_duration_seconds",
				Help:    "Duration of one scan cycle in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
	}
}

// ObserveCall records one protected call to a dependency.
func (p *PrometheusRecorder) ObserveCall(dependency string, success bool, errorKind string, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	p.callsTotal.WithLabelValues(dependency, status, errorKind).Inc()
	p.callDuration.WithLabelValues(dependency).Observe(duration.Seconds())
}

// SetBreakerState records the current breaker state for a dependency.
func (p *PrometheusRecorder) SetBreakerState(dependency string, state int) {
	p.breakerState.WithLabelValues(dependency).Set(float64(state))
}

// IncBreakerTransition counts a breaker state transition.
func (p *PrometheusRecorder) IncBreakerTransition(dependency, to string) {
	p.breakerTransitionsTotal.WithLabelValues(dependency, to).Inc()
}

// SetLimiterTokens records the current token level of a limiter.
func (p *PrometheusRecorder) SetLimiterTokens(dependency string, tokens float64) {
	p.limiterTokens.WithLabelValues(dependency).Set(tokens)
}

// IncConversationTransition counts a conversation status change.
func (p *PrometheusRecorder) IncConversationTransition(status, reason string) {
	p.conversationTransitions.WithLabelValues(status, reason).Inc()
}

// IncReplySent counts an outbound reply.
func (p *PrometheusRecorder) IncReplySent() {
	p.repliesSentTotal.Inc()
}

// IncEmergency counts an analysis flagged as an emergency.
func (p *PrometheusRecorder) IncEmergency() {
	p.emergenciesTotal.Inc()
}

// ObserveCycle records the duration of one scan cycle.
func (p *PrometheusRecorder) ObserveCycle(duration time.Duration) {
	p.cycleDuration.Observe(duration.Seconds())
}
