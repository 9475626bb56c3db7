package tool

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"campaignflow/internal/domain"
)

// Tool is a named, directly-invokable unit of work.
type Tool interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, input any) (any, error)
}

// Func adapts a plain function into a Tool.
type Func struct {
	ToolName string
	Desc     string
	Fn       func(ctx context.Context, input any) (any, error)
}

func (f Func) Name() string        { return f.ToolName }
func (f Func) Description() string { return f.Desc }
func (f Func) Invoke(ctx context.Context, input any) (any, error) {
	return f.Fn(ctx, input)
}

// Registry is an explicit tool registry implementing domain.ToolInvoker.
// Passed into the engine at construction time; no process-wide state.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

// Register adds a tool. Returns ErrDuplicate if the name is taken.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name()]; exists {
		return domain.NewSubSystemError("tool", "Registry.Register", domain.ErrDuplicate, t.Name())
	}
	r.tools[t.Name()] = t
	r.logger.Debug("tool registered", "tool", t.Name())
	return nil
}

// Get returns the tool for the given name, or ErrToolNotFound.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, domain.NewSubSystemError("tool", "Registry.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

// List returns registered tool names sorted alphabetically.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke implements domain.ToolInvoker: look up by id and run. Tool errors
// propagate unchanged.
func (r *Registry) Invoke(ctx context.Context, toolID string, input any) (any, error) {
	t, err := r.Get(toolID)
	if err != nil {
		return nil, err
	}
	return t.Invoke(ctx, input)
}
