package domain

import (
	"errors"
	"fmt"
)

// Category sentinels — use with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrDuplicate    = fmt.Errorf("duplicate")
	ErrLimitReached = fmt.Errorf("limit reached")
	ErrInvalidInput = fmt.Errorf("invalid input")
)

// Sentinel errors for the orchestration core.
var (
	ErrValidation        = fmt.Errorf("schema validation failed")
	ErrMissingDependency = fmt.Errorf("referenced step output missing")
	ErrDuplicateStepID   = fmt.Errorf("duplicate step id")
	ErrRecursionLimit    = fmt.Errorf("sub-workflow recursion limit exceeded")
	ErrStepFailed        = fmt.Errorf("step execution failed")
	ErrToolNotFound      = fmt.Errorf("tool not found")
	ErrAgentNotFound     = fmt.Errorf("agent not found")
	ErrWorkerNotFound    = fmt.Errorf("worker not found")
	ErrWorkflowNotFound  = fmt.Errorf("workflow not found")
	ErrReduceFailed      = fmt.Errorf("reduce failed")
	ErrBreakerOpen       = fmt.Errorf("circuit open")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Engine.Run")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "pipeline", "router")
	StepID    string // offending step, when the error belongs to one
}

func (e *DomainError) Error() string {
	switch {
	case e.StepID != "" && e.Detail != "":
		return fmt.Sprintf("%s: step %q: %s: %s", e.Op, e.StepID, e.Detail, e.Err)
	case e.StepID != "":
		return fmt.Sprintf("%s: step %q: %s", e.Op, e.StepID, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Err)
	}
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// NewStepError creates a DomainError tied to a specific pipeline step.
func NewStepError(op, stepID string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: "pipeline", StepID: stepID}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// StepIDOf returns the step id attached to err, or "" when the error is not
// tied to a step.
func StepIDOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.StepID
	}
	return ""
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeValidation        ErrorCode = "VALIDATION_FAILED"
	CodeMissingDependency ErrorCode = "MISSING_DEPENDENCY"
	CodeDuplicateStepID   ErrorCode = "DUPLICATE_STEP_ID"
	CodeRecursionLimit    ErrorCode = "RECURSION_LIMIT"
	CodeStepFailed        ErrorCode = "STEP_FAILED"
	CodeToolNotFound      ErrorCode = "TOOL_NOT_FOUND"
	CodeAgentNotFound     ErrorCode = "AGENT_NOT_FOUND"
	CodeWorkerNotFound    ErrorCode = "WORKER_NOT_FOUND"
	CodeWorkflowNotFound  ErrorCode = "WORKFLOW_NOT_FOUND"
	CodeReduceFailed      ErrorCode = "REDUCE_FAILED"
	CodeBreakerOpen       ErrorCode = "BREAKER_OPEN"
	CodeEngineMaxRunning  ErrorCode = "ENGINE_MAX_RUNNING"

	// Category fallback codes.
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeDuplicate    ErrorCode = "DUPLICATE"
	CodeLimitReached ErrorCode = "LIMIT_REACHED"
	CodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:     CodeNotFound,
	ErrDuplicate:    CodeDuplicate,
	ErrLimitReached: CodeLimitReached,
	ErrInvalidInput: CodeInvalidInput,

	ErrValidation:        CodeValidation,
	ErrMissingDependency: CodeMissingDependency,
	ErrDuplicateStepID:   CodeDuplicateStepID,
	ErrRecursionLimit:    CodeRecursionLimit,
	ErrStepFailed:        CodeStepFailed,
	ErrToolNotFound:      CodeToolNotFound,
	ErrAgentNotFound:     CodeAgentNotFound,
	ErrWorkerNotFound:    CodeWorkerNotFound,
	ErrWorkflowNotFound:  CodeWorkflowNotFound,
	ErrReduceFailed:      CodeReduceFailed,
	ErrBreakerOpen:       CodeBreakerOpen,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrLimitReached: {
		"pipeline": CodeEngineMaxRunning,
	},
	ErrNotFound: {
		"workflow": CodeWorkflowNotFound,
		"worker":   CodeWorkerNotFound,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if de.SubSystem != "" {
			if subsysMap, ok := subSystemCodeMap[de.Err]; ok {
				if code, ok := subsysMap[de.SubSystem]; ok {
					return code
				}
			}
		}
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}
