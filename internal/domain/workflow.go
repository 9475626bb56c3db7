package domain

import (
	"fmt"
	"time"
)

// StepKind selects which executor a step is dispatched through.
type StepKind string

const (
	StepTool        StepKind = "tool"
	StepAgent       StepKind = "agent"
	StepSubWorkflow StepKind = "subworkflow"
)

// ResolveFunc computes a step's candidate input from the trigger payload and
// the outputs of earlier steps. Pure: it must not mutate its arguments.
type ResolveFunc func(trigger any, prior *Outputs) (any, error)

// ConditionFunc decides whether a step runs. A nil ConditionFunc means true.
type ConditionFunc func(trigger any, prior *Outputs) (bool, error)

// ReduceFunc folds all collected step outputs into the workflow's final
// output. Invoked once, and never after a failed step.
type ReduceFunc func(outputs *Outputs, trigger any) (any, error)

// StepSpec is a single unit of work inside a WorkflowSpec.
type StepSpec struct {
	ID           string
	Kind         StepKind
	InputSchema  *Schema
	OutputSchema *Schema
	ResolveInput ResolveFunc   // nil = pass the trigger through unchanged
	Condition    ConditionFunc // nil = always run

	// tool step fields
	ToolID string

	// agent step fields
	AgentID string
	Prompt  string

	// subworkflow step fields
	Sub *WorkflowSpec
}

// WorkflowSpec is a declared pipeline: ordered steps plus a reducer.
// Declaration order is execution order; a step may only reference outputs of
// steps declared before it.
type WorkflowSpec struct {
	ID           string
	Description  string
	InputSchema  *Schema
	OutputSchema *Schema
	Steps        []StepSpec
	Reduce       ReduceFunc // nil = return the full outputs map
}

// Validate checks the spec for authoring errors before any step runs.
func (w *WorkflowSpec) Validate() error {
	if w.ID == "" {
		return NewSubSystemError("pipeline", "WorkflowSpec.Validate", ErrInvalidInput, "workflow has no id")
	}
	if len(w.Steps) == 0 {
		return NewSubSystemError("pipeline", "WorkflowSpec.Validate", ErrInvalidInput, "workflow has no steps")
	}
	seen := make(map[string]bool, len(w.Steps))
	for i, s := range w.Steps {
		if s.ID == "" {
			return NewSubSystemError("pipeline", "WorkflowSpec.Validate", ErrInvalidInput,
				fmt.Sprintf("step[%d] has no id", i))
		}
		if seen[s.ID] {
			return NewStepError("WorkflowSpec.Validate", s.ID, ErrDuplicateStepID, "")
		}
		seen[s.ID] = true

		switch s.Kind {
		case StepTool:
			if s.ToolID == "" {
				return NewStepError("WorkflowSpec.Validate", s.ID, ErrInvalidInput, "tool step requires tool id")
			}
		case StepAgent:
			if s.AgentID == "" {
				return NewStepError("WorkflowSpec.Validate", s.ID, ErrInvalidInput, "agent step requires agent id")
			}
		case StepSubWorkflow:
			if s.Sub == nil {
				return NewStepError("WorkflowSpec.Validate", s.ID, ErrInvalidInput, "subworkflow step requires a spec")
			}
		default:
			return NewStepError("WorkflowSpec.Validate", s.ID, ErrInvalidInput,
				fmt.Sprintf("unknown step kind %q", s.Kind))
		}
	}
	return nil
}

// Outputs is an insertion-ordered map from step id to validated output.
// Insertion order equals step completion order, which for a sequential run
// equals declaration order of the executed steps.
type Outputs struct {
	keys   []string
	values map[string]any
}

// NewOutputs creates an empty output map.
func NewOutputs() *Outputs {
	return &Outputs{values: make(map[string]any)}
}

// Set records a step's output. Overwriting is not expected: step ids are
// unique and each step completes at most once.
func (o *Outputs) Set(stepID string, value any) {
	if _, exists := o.values[stepID]; !exists {
		o.keys = append(o.keys, stepID)
	}
	o.values[stepID] = value
}

// Get returns the output for stepID and whether it is present. Absence means
// the step was skipped or has not run.
func (o *Outputs) Get(stepID string) (any, bool) {
	if o == nil {
		return nil, false
	}
	v, ok := o.values[stepID]
	return v, ok
}

// Lookup is Get with the strict dependency contract: a missing entry is an
// ErrMissingDependency, never a silent default.
func (o *Outputs) Lookup(stepID string) (any, error) {
	v, ok := o.Get(stepID)
	if !ok {
		return nil, NewStepError("Outputs.Lookup", stepID, ErrMissingDependency, "")
	}
	return v, nil
}

// Keys returns step ids in completion order.
func (o *Outputs) Keys() []string {
	if o == nil {
		return nil
	}
	keys := make([]string, len(o.keys))
	copy(keys, o.keys)
	return keys
}

// Len returns the number of recorded outputs.
func (o *Outputs) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Map returns the outputs as a plain map keyed by step id. Useful for
// template data and JSON serialization; ordering is lost.
func (o *Outputs) Map() map[string]any {
	m := make(map[string]any, o.Len())
	if o == nil {
		return m
	}
	for k, v := range o.values {
		m[k] = v
	}
	return m
}

// RunStatus tracks the lifecycle of one pipeline run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// StepFailure names the step that aborted a run and the underlying cause.
type StepFailure struct {
	StepID string
	Err    error
}

// ExecutionContext is the per-run state mutated only by the engine. It is
// allocated at run start and never shared between runs.
type ExecutionContext struct {
	RunID        string
	WorkflowID   string
	TriggerInput any
	Outputs      *Outputs
	Skipped      []string // step ids whose condition evaluated false
	Status       RunStatus
	Failure      *StepFailure
	StartedAt    time.Time
	CompletedAt  time.Time
}
