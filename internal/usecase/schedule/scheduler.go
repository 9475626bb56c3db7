package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"

	"campaignflow/internal/domain"
	"campaignflow/internal/usecase/pipeline"
)

// Runner abstracts workflow execution so the scheduler does not depend on
// the concrete engine wiring.
type Runner interface {
	Run(ctx context.Context, workflowID string, trigger any) (*pipeline.RunResult, error)
}

// Entry is one scheduled workflow trigger.
type Entry struct {
	ID         string         `yaml:"id,omitempty"`
	Name       string         `yaml:"name,omitempty"`
	WorkflowID string         `yaml:"workflow"`
	Cron       string         `yaml:"cron"` // standard 5-field cron expression
	Trigger    map[string]any `yaml:"trigger,omitempty"`
	Enabled    *bool          `yaml:"enabled,omitempty"` // nil = enabled
}

func (e Entry) enabled() bool { return e.Enabled == nil || *e.Enabled }

// Scheduler fires workflow runs on cron schedules.
type Scheduler struct {
	runner Runner
	bus    domain.EventBus
	logger *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	started bool
}

// New creates a Scheduler. The bus may be nil.
func New(runner Runner, bus domain.EventBus, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:  runner,
		bus:     bus,
		logger:  logger,
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
	}
}

// Add registers a schedule entry. Returns the (possibly generated) entry id.
func (s *Scheduler) Add(entry Entry) (string, error) {
	if entry.WorkflowID == "" {
		return "", domain.NewSubSystemError("schedule", "Scheduler.Add", domain.ErrInvalidInput, "workflow is required")
	}
	if _, err := cron.ParseStandard(entry.Cron); err != nil {
		return "", domain.NewSubSystemError("schedule", "Scheduler.Add", domain.ErrInvalidInput,
			fmt.Sprintf("cron %q: %v", entry.Cron, err))
	}
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if !entry.enabled() {
		s.logger.Debug("schedule disabled, not registered", "id", entry.ID, "workflow", entry.WorkflowID)
		return entry.ID, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.ID]; exists {
		return "", domain.NewSubSystemError("schedule", "Scheduler.Add", domain.ErrDuplicate, entry.ID)
	}

	e := entry
	cronID, err := s.cron.AddFunc(entry.Cron, func() { s.fire(e) })
	if err != nil {
		return "", fmt.Errorf("scheduler: add: %w", err)
	}
	s.entries[entry.ID] = cronID

	s.logger.Info("schedule registered", "id", entry.ID, "workflow", entry.WorkflowID, "cron", entry.Cron)
	return entry.ID, nil
}

// Remove unregisters a schedule entry.
func (s *Scheduler) Remove(entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cronID, ok := s.entries[entryID]
	if !ok {
		return domain.NewSubSystemError("schedule", "Scheduler.Remove", domain.ErrNotFound, entryID)
	}
	s.cron.Remove(cronID)
	delete(s.entries, entryID)
	return nil
}

// NextRun returns the next fire time for an entry, or the zero time when the
// entry is unknown.
func (s *Scheduler) NextRun(entryID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	cronID, ok := s.entries[entryID]
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(cronID).Next
}

// Start begins firing schedules. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.cron.Start()
	s.started = true
}

// Stop halts the scheduler and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
}

func (s *Scheduler) fire(entry Entry) {
	ctx := context.Background()

	s.emitEvent(ctx, entry)
	s.logger.Info("schedule fired", "id", entry.ID, "workflow", entry.WorkflowID)

	result, err := s.runner.Run(ctx, entry.WorkflowID, triggerPayload(entry.Trigger))
	if err != nil {
		s.logger.Warn("scheduled run failed", "id", entry.ID, "workflow", entry.WorkflowID, "error", err)
		return
	}
	s.logger.Info("scheduled run completed",
		"id", entry.ID,
		"workflow", entry.WorkflowID,
		"run_id", result.Context.RunID,
	)
}

func triggerPayload(trigger map[string]any) any {
	if trigger == nil {
		return map[string]any{}
	}
	return trigger
}

func (s *Scheduler) emitEvent(ctx context.Context, entry Entry) {
	if s.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"entry":    entry.ID,
		"workflow": entry.WorkflowID,
	})
	s.bus.Publish(ctx, domain.Event{
		Type:      domain.EventScheduleFired,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
