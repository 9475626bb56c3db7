package agent

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"campaignflow/internal/domain"
)

// Agent produces output from a prompt plus a context payload. Concrete
// implementations (LLM-backed, templated, remote) live behind this interface;
// the orchestration core never sees them directly.
type Agent interface {
	ID() string
	Generate(ctx context.Context, prompt string, taskContext any) (any, error)
}

// Registry is an explicit agent registry implementing domain.AgentInvoker.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
	logger *slog.Logger
}

// NewRegistry creates an empty agent registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		agents: make(map[string]Agent),
		logger: logger,
	}
}

// Register adds an agent. Returns ErrDuplicate if the id is taken.
func (r *Registry) Register(a Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[a.ID()]; exists {
		return domain.NewSubSystemError("agent", "Registry.Register", domain.ErrDuplicate, a.ID())
	}
	r.agents[a.ID()] = a
	r.logger.Debug("agent registered", "agent", a.ID())
	return nil
}

// Get returns the agent for the given id, or ErrAgentNotFound.
func (r *Registry) Get(agentID string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[agentID]
	if !ok {
		return nil, domain.NewSubSystemError("agent", "Registry.Get", domain.ErrAgentNotFound, agentID)
	}
	return a, nil
}

// List returns registered agent ids sorted alphabetically.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Generate implements domain.AgentInvoker.
func (r *Registry) Generate(ctx context.Context, agentID, prompt string, taskContext any) (any, error) {
	a, err := r.Get(agentID)
	if err != nil {
		return nil, err
	}
	return a.Generate(ctx, prompt, taskContext)
}
