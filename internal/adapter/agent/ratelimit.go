package agent

import (
	"context"

	"golang.org/x/time/rate"

	"campaignflow/internal/domain"
)

// RateLimitConfig bounds how fast agents may be invoked.
type RateLimitConfig struct {
	RequestsPerMin float64 `yaml:"requests_per_min"`
	BurstSize      int     `yaml:"burst_size"`
}

// RateLimitedInvoker wraps an AgentInvoker with a token-bucket limiter.
// Generate blocks until a token is available or the context is cancelled, so
// a saturated limiter surfaces as the caller's deadline, not a new error kind.
type RateLimitedInvoker struct {
	inner   domain.AgentInvoker
	limiter *rate.Limiter
}

// NewRateLimitedInvoker wraps inner with a limiter. A non-positive rate
// disables limiting.
func NewRateLimitedInvoker(inner domain.AgentInvoker, cfg RateLimitConfig) *RateLimitedInvoker {
	var limiter *rate.Limiter
	if cfg.RequestsPerMin > 0 {
		burst := cfg.BurstSize
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMin)/60.0, burst)
	}
	return &RateLimitedInvoker{inner: inner, limiter: limiter}
}

// Generate implements domain.AgentInvoker.
func (p *RateLimitedInvoker) Generate(ctx context.Context, agentID, prompt string, taskContext any) (any, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return p.inner.Generate(ctx, agentID, prompt, taskContext)
}
