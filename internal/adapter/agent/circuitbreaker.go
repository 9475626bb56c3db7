package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"campaignflow/internal/domain"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// CircuitBreakerConfig configures the circuit breaker behavior.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32 `yaml:"max_failures"`
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration `yaml:"timeout"`
	// Interval is the cyclic period of the closed state for clearing failure counts.
	// If 0, failures never reset until the circuit opens.
	Interval time.Duration `yaml:"interval"`
}

// CircuitBreakerInvoker wraps an AgentInvoker with circuit breaker
// protection. When the wrapped invoker fails repeatedly the circuit opens and
// subsequent calls fail fast without reaching it. This is fail-fast
// shielding, not retry: a rejected call is an error the pipeline treats like
// any other step failure.
type CircuitBreakerInvoker struct {
	inner   domain.AgentInvoker
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

// NewCircuitBreakerInvoker wraps inner with a circuit breaker.
// If cfg is zero-valued, sensible defaults are used.
func NewCircuitBreakerInvoker(inner domain.AgentInvoker, cfg CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerInvoker {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "agents",
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return &CircuitBreakerInvoker{
		inner:   inner,
		breaker: cb,
		logger:  logger,
	}
}

// Generate implements domain.AgentInvoker. Calls route through the breaker.
func (p *CircuitBreakerInvoker) Generate(ctx context.Context, agentID, prompt string, taskContext any) (any, error) {
	out, err := p.breaker.Execute(func() (any, error) {
		return p.inner.Generate(ctx, agentID, prompt, taskContext)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("agent %q: %w: %w", agentID, domain.ErrBreakerOpen, err)
		}
		return nil, err
	}
	return out, nil
}
