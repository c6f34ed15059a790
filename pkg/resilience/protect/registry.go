package protect

import (
	"time"

	"warmbot/pkg/resilience/circuit"
	"warmbot/pkg/resilience/ratelimit"
	"warmbot/pkg/resilience/retry"
)

// Dependency names guarded by the registry. Each name maps to exactly one
// breaker and one limiter for the process lifetime.
const (
	DepPlatform = "platform"
	DepAI       = "ai"
	DepPost     = "post"
)

// DependencyConfig bundles the primitive configs for one dependency.
type DependencyConfig struct {
	Breaker circuit.Config   `yaml:"breaker"`
	Limiter ratelimit.Config `yaml:"limiter"`
	Retry   retry.Config     `yaml:"retry"`
}

// Config holds the resilience tuning for every external dependency.
type Config struct {
	Platform DependencyConfig `yaml:"platform"`
	AI       DependencyConfig `yaml:"ai"`
	Post     DependencyConfig `yaml:"post"`
}

// DefaultRegistryConfig returns the production tuning. The platform upstream
// penalizes abuse aggressively, so its breaker trips early and cools down for
// a long time; reply posting is the highest-risk action and gets the tightest
// bucket and no retries.
func DefaultRegistryConfig() Config {
	return Config{
		Platform: DependencyConfig{
			Breaker: circuit.Config{
				FailureThreshold:  3,
				SuccessThreshold:  2,
				Cooldown:          300 * time.Second,
				MaxHalfOpenProbes: 3,
			},
			Limiter: ratelimit.Config{Rate: 0.5, Burst: 3},
			Retry: retry.Config{
				MaxRetries:    2,
				BaseDelay:     2 * time.Second,
				MaxDelay:      30 * time.Second,
				BackoffFactor: 2.0,
				Jitter:        true,
			},
		},
		AI: DependencyConfig{
			Breaker: circuit.Config{
				FailureThreshold:  5,
				SuccessThreshold:  2,
				Cooldown:          60 * time.Second,
				MaxHalfOpenProbes: 3,
			},
			Limiter: ratelimit.Config{Rate: 2.0, Burst: 10},
			Retry: retry.Config{
				MaxRetries:    3,
				BaseDelay:     1 * time.Second,
				MaxDelay:      10 * time.Second,
				BackoffFactor: 2.0,
				Jitter:        true,
			},
		},
		Post: DependencyConfig{
			// Posting shares failure characteristics with the rest of the
			// platform API but is throttled far harder and never retried.
			Breaker: circuit.Config{
				FailureThreshold:  3,
				SuccessThreshold:  2,
				Cooldown:          300 * time.Second,
				MaxHalfOpenProbes: 3,
			},
			Limiter: ratelimit.Config{Rate: 0.2, Burst: 2},
		},
	}
}

// Registry owns the per-dependency invokers. It is constructed once at process
// start and passed by reference to every component that calls out; there are
// no hidden package-level singletons.
type Registry struct {
	platform *Invoker
	ai       *Invoker
	post     *Invoker
}

// NewRegistry builds the invokers from config. The post invoker reuses the
// platform breaker: a risk-control ban hits search, reads and posting alike,
// so they share failure accounting. Posting keeps its own stricter bucket
// and runs without retries to avoid duplicate replies.
func NewRegistry(cfg Config) *Registry {
	platformBreaker := circuit.New(DepPlatform, cfg.Platform.Breaker)

	return &Registry{
		platform: NewInvoker(
			DepPlatform,
			ratelimit.New(DepPlatform, cfg.Platform.Limiter),
			platformBreaker,
			retry.New(DepPlatform, cfg.Platform.Retry, nil),
		),
		ai: NewInvoker(
			DepAI,
			ratelimit.New(DepAI, cfg.AI.Limiter),
			circuit.New(DepAI, cfg.AI.Breaker),
			retry.New(DepAI, cfg.AI.Retry, nil),
		),
		post: NewInvoker(
			DepPost,
			ratelimit.New(DepPost, cfg.Post.Limiter),
			platformBreaker,
			nil,
		),
	}
}

// Platform returns the invoker guarding platform search/read calls.
func (r *Registry) Platform() *Invoker {
	return r.platform
}

// AI returns the invoker guarding AI analysis calls.
func (r *Registry) AI() *Invoker {
	return r.ai
}

// Post returns the invoker guarding outbound reply posting.
func (r *Registry) Post() *Invoker {
	return r.post
}

// Invokers returns every invoker, for health reporting.
func (r *Registry) Invokers() []*Invoker {
	return []*Invoker{r.platform, r.ai, r.post}
}

// Observe wires o into every invoker and breaker. The post invoker shares the
// platform breaker, so its transitions report once under the platform name.
func (r *Registry) Observe(o CallObserver, onState circuit.StateChangeFunc) {
	for _, inv := range r.Invokers() {
		inv.observer = o
	}
	if onState != nil {
		r.platform.breaker.OnStateChange(onState)
		r.ai.breaker.OnStateChange(onState)
	}
}
