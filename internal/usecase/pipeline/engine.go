package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"campaignflow/internal/domain"
	"campaignflow/internal/infra/tracer"
)

// Default bound on sub-workflow nesting.
const defaultMaxDepth = 10

// Config holds configuration for the pipeline engine.
type Config struct {
	MaxDepth   int // sub-workflow nesting bound (default 10)
	MaxRunning int // concurrent top-level runs; 0 = unlimited
}

// Engine validates and executes workflow specs. It holds no per-run state:
// every Run allocates its own ExecutionContext, so concurrent runs are
// independent.
type Engine struct {
	invokers domain.Invokers
	cfg      Config
	bus      domain.EventBus
	logger   *slog.Logger

	running atomic.Int32
}

// RunResult pairs the reduced output with the run's execution context. On a
// failed run Output is nil and Context carries the failure plus whatever
// step outputs completed before the abort.
type RunResult struct {
	Output  any
	Context *domain.ExecutionContext
}

// New creates a pipeline engine. The bus may be nil; events are then dropped.
func New(invokers domain.Invokers, cfg Config, bus domain.EventBus, logger *slog.Logger) *Engine {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxDepth
	}
	return &Engine{
		invokers: invokers,
		cfg:      cfg,
		bus:      bus,
		logger:   logger,
	}
}

// Run executes spec against the trigger input. Steps run strictly in declared
// order; the engine never reorders or parallelizes them. The returned
// ExecutionContext is always non-nil once the trigger passed validation.
func (e *Engine) Run(ctx context.Context, spec *domain.WorkflowSpec, trigger any) (*RunResult, error) {
	if max := e.cfg.MaxRunning; max > 0 {
		if int(e.running.Load()) >= max {
			return nil, domain.NewSubSystemError("pipeline", "Engine.Run", domain.ErrLimitReached,
				fmt.Sprintf("%d/%d runs", e.running.Load(), max))
		}
	}
	e.running.Add(1)
	defer e.running.Add(-1)

	return e.run(ctx, spec, trigger, 0)
}

func (e *Engine) run(ctx context.Context, spec *domain.WorkflowSpec, trigger any, depth int) (*RunResult, error) {
	if depth > e.cfg.MaxDepth {
		return nil, domain.NewSubSystemError("pipeline", "Engine.run", domain.ErrRecursionLimit,
			fmt.Sprintf("depth %d exceeds limit %d", depth, e.cfg.MaxDepth))
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}

	// Fail fast on a bad trigger: no context is created, nothing executed.
	if err := spec.InputSchema.Validate(trigger); err != nil {
		return nil, domain.NewSubSystemError("pipeline", "Engine.run", err, "trigger input")
	}

	ec := &domain.ExecutionContext{
		RunID:        newRunID(time.Now()),
		WorkflowID:   spec.ID,
		TriggerInput: trigger,
		Outputs:      domain.NewOutputs(),
		Status:       domain.RunRunning,
		StartedAt:    time.Now(),
	}

	ctx, span := tracer.StartSpan(ctx, "pipeline.run",
		tracer.WithAttributes(
			tracer.StringAttr("workflow.id", spec.ID),
			tracer.StringAttr("run.id", ec.RunID),
			tracer.IntAttr("run.depth", depth),
		))
	defer span.End()

	e.emitEvent(ctx, domain.EventWorkflowStarted, ec.RunID, map[string]string{
		"workflow": spec.ID,
	})
	e.logger.Info("workflow started", "workflow", spec.ID, "run_id", ec.RunID, "depth", depth)

	for i := range spec.Steps {
		step := &spec.Steps[i]
		if err := e.runStep(ctx, ec, spec, step, depth); err != nil {
			e.failRun(ctx, ec, step.ID, err)
			tracer.RecordError(span, err)
			return &RunResult{Context: ec}, err
		}
	}

	output, err := e.reduce(spec, ec)
	if err != nil {
		e.failRun(ctx, ec, "", err)
		tracer.RecordError(span, err)
		return &RunResult{Context: ec}, err
	}

	ec.Status = domain.RunCompleted
	ec.CompletedAt = time.Now()
	e.emitEvent(ctx, domain.EventWorkflowCompleted, ec.RunID, map[string]string{
		"workflow": spec.ID,
	})
	e.logger.Info("workflow completed",
		"workflow", spec.ID,
		"run_id", ec.RunID,
		"steps", ec.Outputs.Len(),
		"skipped", len(ec.Skipped),
		"duration", time.Since(ec.StartedAt),
	)
	tracer.SetOK(span)

	return &RunResult{Output: output, Context: ec}, nil
}

// runStep executes one step: condition, resolve, validate, execute, validate,
// store. Any returned error is fatal to the run.
func (e *Engine) runStep(ctx context.Context, ec *domain.ExecutionContext, spec *domain.WorkflowSpec, step *domain.StepSpec, depth int) error {
	ctx, span := tracer.StartSpan(ctx, "pipeline.step",
		tracer.WithAttributes(
			tracer.StringAttr("step.id", step.ID),
			tracer.StringAttr("step.kind", string(step.Kind)),
		))
	defer span.End()

	if step.Condition != nil {
		ok, err := step.Condition(ec.TriggerInput, ec.Outputs)
		if err != nil {
			return domain.NewStepError("Engine.runStep", step.ID, domain.ErrStepFailed,
				fmt.Sprintf("condition: %v", err))
		}
		if !ok {
			ec.Skipped = append(ec.Skipped, step.ID)
			e.emitEvent(ctx, domain.EventStepSkipped, ec.RunID, map[string]string{
				"workflow": spec.ID,
				"step":     step.ID,
			})
			e.logger.Debug("step skipped", "run_id", ec.RunID, "step", step.ID)
			return nil
		}
	}

	input := ec.TriggerInput
	if step.ResolveInput != nil {
		resolved, err := step.ResolveInput(ec.TriggerInput, ec.Outputs)
		if err != nil {
			// ErrMissingDependency from an Outputs lookup surfaces here.
			return domain.WrapOp("Engine.runStep: resolve input", err)
		}
		input = resolved
	}
	if err := step.InputSchema.Validate(input); err != nil {
		return domain.NewStepError("Engine.runStep", step.ID, err, "input")
	}

	start := time.Now()
	output, err := e.execute(ctx, step, input, depth)
	if err != nil {
		tracer.RecordError(span, err)
		return &domain.DomainError{
			Op:        "Engine.runStep",
			Err:       fmt.Errorf("%w: %w", domain.ErrStepFailed, err),
			SubSystem: "pipeline",
			StepID:    step.ID,
		}
	}
	if err := step.OutputSchema.Validate(output); err != nil {
		return &domain.DomainError{
			Op:        "Engine.runStep",
			Err:       fmt.Errorf("%w: output %w", domain.ErrStepFailed, err),
			SubSystem: "pipeline",
			StepID:    step.ID,
		}
	}

	ec.Outputs.Set(step.ID, output)
	e.emitEvent(ctx, domain.EventStepCompleted, ec.RunID, map[string]string{
		"workflow": spec.ID,
		"step":     step.ID,
	})
	e.logger.Debug("step completed",
		"run_id", ec.RunID,
		"step", step.ID,
		"kind", string(step.Kind),
		"duration", time.Since(start),
	)
	tracer.SetOK(span)
	return nil
}

// execute dispatches a step through the matching invoker kind.
func (e *Engine) execute(ctx context.Context, step *domain.StepSpec, input any, depth int) (any, error) {
	switch step.Kind {
	case domain.StepTool:
		if e.invokers.Tools == nil {
			return nil, domain.NewStepError("Engine.execute", step.ID, domain.ErrToolNotFound, "no tool invoker configured")
		}
		return e.invokers.Tools.Invoke(ctx, step.ToolID, input)
	case domain.StepAgent:
		if e.invokers.Agents == nil {
			return nil, domain.NewStepError("Engine.execute", step.ID, domain.ErrAgentNotFound, "no agent invoker configured")
		}
		return e.invokers.Agents.Generate(ctx, step.AgentID, step.Prompt, input)
	case domain.StepSubWorkflow:
		result, err := e.run(ctx, step.Sub, input, depth+1)
		if err != nil {
			return nil, err
		}
		return result.Output, nil
	default:
		return nil, domain.NewStepError("Engine.execute", step.ID, domain.ErrInvalidInput,
			fmt.Sprintf("unknown step kind %q", step.Kind))
	}
}

// reduce folds the collected outputs into the final result and validates it.
// Never reached when a step failed.
func (e *Engine) reduce(spec *domain.WorkflowSpec, ec *domain.ExecutionContext) (any, error) {
	var output any
	if spec.Reduce != nil {
		reduced, err := spec.Reduce(ec.Outputs, ec.TriggerInput)
		if err != nil {
			return nil, domain.NewSubSystemError("pipeline", "Engine.reduce",
				fmt.Errorf("%w: %w", domain.ErrReduceFailed, err), spec.ID)
		}
		output = reduced
	} else {
		output = ec.Outputs.Map()
	}
	if err := spec.OutputSchema.Validate(output); err != nil {
		return nil, domain.NewSubSystemError("pipeline", "Engine.reduce", err, "workflow output")
	}
	return output, nil
}

func (e *Engine) failRun(ctx context.Context, ec *domain.ExecutionContext, stepID string, err error) {
	if id := domain.StepIDOf(err); id != "" {
		stepID = id
	}
	ec.Status = domain.RunFailed
	ec.Failure = &domain.StepFailure{StepID: stepID, Err: err}
	ec.CompletedAt = time.Now()
	if stepID != "" {
		e.emitEvent(ctx, domain.EventStepFailed, ec.RunID, map[string]string{
			"workflow": ec.WorkflowID,
			"step":     stepID,
			"error":    err.Error(),
		})
	}
	e.emitEvent(ctx, domain.EventWorkflowFailed, ec.RunID, map[string]string{
		"workflow": ec.WorkflowID,
		"step":     stepID,
		"error":    err.Error(),
		"code":     string(domain.ErrorCodeOf(err)),
	})
	e.logger.Warn("workflow failed",
		"workflow", ec.WorkflowID,
		"run_id", ec.RunID,
		"step", stepID,
		"error", err,
	)
}

func (e *Engine) emitEvent(ctx context.Context, eventType domain.EventType, runID string, payload any) {
	if e.bus == nil {
		return
	}
	data, _ := json.Marshal(payload)
	e.bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		RunID:     runID,
		Payload:   data,
	})
}

func newRunID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
