package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/agenthive/agenthive/internal/logging"
	"github.com/agenthive/agenthive/internal/registry"
)

// RetryConfig configures exponential backoff for transient provider faults
// inside a single dispatch attempt. Scheduler-level retries (fresh
// execution records) are governed separately.
type RetryConfig struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	MaxElapsedTime      time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// Resilient wraps an Executor with a per-agent-type circuit breaker and
// exponential-backoff retries for transient faults. An open circuit fails
// fast and is reported as a non-transient ExecutionError so the scheduler
// does not burn attempts against a provider that is down.
type Resilient struct {
	inner    Executor
	retry    RetryConfig
	logger   logging.Logger
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewResilient creates the resilience middleware around inner.
func NewResilient(inner Executor, retry RetryConfig, logger logging.Logger) *Resilient {
	return &Resilient{
		inner:    inner,
		retry:    retry,
		logger:   logging.OrDefault(logger),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// breaker returns the circuit breaker for the given agent type, creating it
// on first use.
func (r *Resilient) breaker(agentType string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[agentType]; ok {
		return cb
	}

	logger := r.logger
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        agentType,
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "agent_type", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Cancellation is not a provider failure.
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
	})
	r.breakers[agentType] = cb
	return cb
}

// RunAgent implements Executor.
func (r *Resilient) RunAgent(ctx context.Context, agent registry.Agent, in Input) (Output, error) {
	cb := r.breaker(agent.Type)

	var out Output
	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		result, err := cb.Execute(func() (interface{}, error) {
			return r.inner.RunAgent(ctx, agent, in)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(&ExecutionError{AgentID: agent.ID, Err: err})
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			if !IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}

		out = result.(Output)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.retry.InitialInterval
	policy.MaxInterval = r.retry.MaxInterval
	policy.MaxElapsedTime = r.retry.MaxElapsedTime
	policy.Multiplier = r.retry.Multiplier
	policy.RandomizationFactor = r.retry.RandomizationFactor

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	return out, err
}

// ValidateInput implements Executor by delegating to the wrapped executor.
func (r *Resilient) ValidateInput(agent registry.Agent, in Input) error {
	return r.inner.ValidateInput(agent, in)
}

var _ Executor = (*Resilient)(nil)
