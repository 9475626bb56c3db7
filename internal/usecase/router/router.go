package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"campaignflow/internal/domain"
	"campaignflow/internal/infra/tracer"
)

// Splice inserts a domain specialist into the base chain at a fixed position.
type Splice struct {
	WorkerID string
	Position int // insertion index into the base chain
}

// Policy holds the router's static dispatch tables.
type Policy struct {
	// BaseChain is the generic research -> analyze -> create -> optimize
	// pipeline used for high-complexity tasks.
	BaseChain []string
	// Reviewer is always appended to a high-complexity chain.
	Reviewer string
	// Generalist handles the final pass of two-worker dispatches and is the
	// best-fit fallback for unmapped domains.
	Generalist string
	// DomainWorkers maps each domain to its best-fit worker.
	DomainWorkers map[string]string
	// Specialists names the special-cased domains whose expert is spliced
	// into a high-complexity chain.
	Specialists map[string]Splice
}

// DefaultPolicy returns the built-in marketing worker tables.
func DefaultPolicy() Policy {
	return Policy{
		BaseChain:  []string{"researcher", "analyst", "copywriter", "optimizer"},
		Reviewer:   "reviewer",
		Generalist: "generalist",
		DomainWorkers: map[string]string{
			"seo":       "seo-specialist",
			"social":    "social-media-manager",
			"email":     "email-marketer",
			"content":   "copywriter",
			"analytics": "analyst",
			"brand":     "brand-strategist",
			"strategy":  "brand-strategist",
		},
		Specialists: map[string]Splice{
			"seo":    {WorkerID: "seo-specialist", Position: 2},
			"social": {WorkerID: "social-media-manager", Position: 2},
			"email":  {WorkerID: "email-marketer", Position: 2},
		},
	}
}

// ChainContext is the context payload each chain hop receives: the caller's
// original context plus the accumulated outputs of all prior workers. This
// models refinement, not independent parallel opinions.
type ChainContext struct {
	Base  any                   `json:"base,omitempty"`
	Prior []domain.WorkerOutput `json:"prior,omitempty"`
}

// Router classifies free-form tasks and dispatches them to one or more
// workers from the injected registry.
type Router struct {
	registry   *Registry
	classifier *Classifier
	policy     Policy
	log        *InteractionLog
	bus        domain.EventBus
	logger     *slog.Logger
}

// New creates a Router. Empty policy fields are filled from DefaultPolicy;
// bus may be nil.
func New(registry *Registry, classifier *Classifier, policy Policy, bus domain.EventBus, logger *slog.Logger) *Router {
	defaults := DefaultPolicy()
	if len(policy.BaseChain) == 0 {
		policy.BaseChain = defaults.BaseChain
	}
	if policy.Reviewer == "" {
		policy.Reviewer = defaults.Reviewer
	}
	if policy.Generalist == "" {
		policy.Generalist = defaults.Generalist
	}
	if policy.DomainWorkers == nil {
		policy.DomainWorkers = defaults.DomainWorkers
	}
	if policy.Specialists == nil {
		policy.Specialists = defaults.Specialists
	}
	if classifier == nil {
		classifier = NewClassifier(KeywordTables{})
	}
	return &Router{
		registry:   registry,
		classifier: classifier,
		policy:     policy,
		log:        NewInteractionLog(),
		bus:        bus,
		logger:     logger,
	}
}

// Route classifies the task and selects the worker chain. Pure apart from
// event emission: identical tasks always produce identical decisions.
func (r *Router) Route(ctx context.Context, task string) domain.RoutingDecision {
	complexity, urgency, taskDomain := r.classifier.Classify(task)

	decision := domain.RoutingDecision{
		Complexity: complexity,
		Urgency:    urgency,
		Domain:     taskDomain,
	}

	switch {
	case complexity == domain.ComplexityLow && urgency == domain.UrgencyHigh:
		// Urgent and simple: straight to the best fit, chain length 1.
		decision.SelectedWorkers = []string{r.bestFit(taskDomain)}

	case complexity == domain.ComplexityHigh:
		decision.SelectedWorkers = r.buildChain(taskDomain)

	default:
		// Medium complexity, or low without urgency: best fit plus an
		// unconditional generalist pass.
		decision.SelectedWorkers = []string{r.bestFit(taskDomain), r.policy.Generalist}
	}

	r.emitEvent(ctx, domain.EventTaskRouted, decision)
	r.logger.Debug("task routed",
		"complexity", string(complexity),
		"urgency", string(urgency),
		"domain", taskDomain,
		"chain", decision.SelectedWorkers,
	)
	return decision
}

// bestFit resolves the best-fit worker for a domain, falling back to the
// generalist for unmapped domains.
func (r *Router) bestFit(taskDomain string) string {
	if id, ok := r.policy.DomainWorkers[taskDomain]; ok {
		return id
	}
	return r.policy.Generalist
}

// buildChain assembles the high-complexity chain: the fixed base chain, the
// domain specialist spliced in for special-cased domains, and the reviewer
// always appended last.
func (r *Router) buildChain(taskDomain string) []string {
	chain := make([]string, len(r.policy.BaseChain))
	copy(chain, r.policy.BaseChain)

	if splice, ok := r.policy.Specialists[taskDomain]; ok {
		pos := splice.Position
		if pos < 0 {
			pos = 0
		}
		if pos > len(chain) {
			pos = len(chain)
		}
		chain = append(chain[:pos], append([]string{splice.WorkerID}, chain[pos:]...)...)
	}

	return append(chain, r.policy.Reviewer)
}

// Dispatch runs the decision's chain sequentially. Each hop sees the original
// task plus all prior hops' outputs. A failing worker truncates the chain:
// the partial result is returned with Partial set, no retry, no fallback.
func (r *Router) Dispatch(ctx context.Context, decision domain.RoutingDecision, task string, taskContext any) (*domain.AggregatedResult, error) {
	ctx, span := tracer.StartSpan(ctx, "router.dispatch",
		tracer.WithAttributes(
			tracer.StringAttr("task.domain", decision.Domain),
			tracer.IntAttr("chain.length", len(decision.SelectedWorkers)),
		))
	defer span.End()

	result := &domain.AggregatedResult{}

	for _, workerID := range decision.SelectedWorkers {
		worker, err := r.registry.Get(workerID)
		if err != nil {
			r.truncate(ctx, result, workerID, err)
			tracer.RecordError(span, err)
			return result, nil
		}

		output, err := r.invoke(ctx, worker, task, &ChainContext{
			Base:  taskContext,
			Prior: result.Outputs,
		})
		if err != nil {
			r.truncate(ctx, result, workerID, err)
			tracer.RecordError(span, err)
			return result, nil
		}

		result.Outputs = append(result.Outputs, domain.WorkerOutput{
			WorkerID: workerID,
			Output:   output,
		})
		result.Primary = output
	}

	tracer.SetOK(span)
	return result, nil
}

// invoke calls one worker and records the interaction. The log slot is
// reserved before the call so concurrent dispatches keep start order.
func (r *Router) invoke(ctx context.Context, worker *domain.WorkerDescriptor, task string, chainCtx *ChainContext) (any, error) {
	complete := r.log.Begin(worker.ID, task)
	start := time.Now()

	output, err := worker.Invoke(ctx, task, chainCtx)
	if err != nil {
		complete(err.Error(), true)
		return nil, domain.WrapOp(fmt.Sprintf("worker %q", worker.ID), err)
	}
	complete(stringify(output), false)

	r.emitEvent(ctx, domain.EventWorkerInvoked, map[string]any{
		"worker_id": worker.ID,
		"duration":  time.Since(start).String(),
	})
	return output, nil
}

func (r *Router) truncate(ctx context.Context, result *domain.AggregatedResult, workerID string, err error) {
	result.Partial = true
	result.Err = err
	r.emitEvent(ctx, domain.EventChainTruncated, map[string]any{
		"worker_id": workerID,
		"completed": len(result.Outputs),
		"error":     err.Error(),
	})
	r.logger.Warn("chain truncated",
		"worker_id", workerID,
		"completed", len(result.Outputs),
		"error", err,
	)
}

// InteractionLog returns the ordered interaction history for one worker.
func (r *Router) InteractionLog(workerID string) []domain.InteractionRecord {
	return r.log.Records(workerID)
}

// Summary returns per-worker invocation counts and last-seen timestamps.
func (r *Router) Summary() []domain.InteractionSummary {
	return r.log.Summary()
}

func (r *Router) emitEvent(ctx context.Context, eventType domain.EventType, payload any) {
	if r.bus == nil {
		return
	}
	data, _ := json.Marshal(payload)
	r.bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   data,
	})
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
