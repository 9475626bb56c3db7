package domain

import (
	"context"
	"time"
)

// WorkerFunc produces a result for a task given routing context.
type WorkerFunc func(ctx context.Context, task string, taskContext any) (any, error)

// WorkerDescriptor is an opaque capability-tagged unit the router dispatches to.
type WorkerDescriptor struct {
	ID             string
	Description    string
	CapabilityTags []string
	Invoke         WorkerFunc
}

// HasCapability reports whether the worker carries the given tag.
func (w *WorkerDescriptor) HasCapability(tag string) bool {
	for _, t := range w.CapabilityTags {
		if t == tag {
			return true
		}
	}
	return false
}

// InteractionRecord is one entry in a worker's append-only interaction log.
type InteractionRecord struct {
	ID        string    `json:"id"`
	WorkerID  string    `json:"worker_id"`
	Task      string    `json:"task"`
	Result    string    `json:"result"`
	IsError   bool      `json:"is_error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// InteractionSummary aggregates a worker's log for introspection.
type InteractionSummary struct {
	WorkerID string    `json:"worker_id"`
	Count    int       `json:"count"`
	LastAt   time.Time `json:"last_at"`
}

// Complexity buckets a task by how many complexity indicators it matches.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Urgency is two-valued: the classifier has no low branch, urgent tasks are
// High and everything else settles at Medium.
type Urgency string

const (
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// RoutingDecision is the classification outcome plus the selected chain.
type RoutingDecision struct {
	Complexity      Complexity `json:"complexity"`
	Urgency         Urgency    `json:"urgency"`
	Domain          string     `json:"domain"`
	SelectedWorkers []string   `json:"selected_workers"` // ordered; length 1 = direct dispatch
}

// WorkerOutput is one completed hop of a dispatched chain.
type WorkerOutput struct {
	WorkerID string `json:"worker_id"`
	Output   any    `json:"output"`
}

// AggregatedResult collects all chain outputs in order. Primary is the final
// completed worker's output. Partial marks a chain truncated by a worker
// failure; the router does not retry or substitute workers.
type AggregatedResult struct {
	Outputs []WorkerOutput `json:"outputs"`
	Primary any            `json:"primary"`
	Partial bool           `json:"partial"`
	Err     error          `json:"-"` // cause of truncation when Partial
}
