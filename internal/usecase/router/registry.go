package router

import (
	"log/slog"
	"sort"
	"sync"

	"campaignflow/internal/domain"
)

// Registry holds the worker pool and provides lookup. WorkerDescriptors are
// treated as immutable configuration once registered, so many concurrent
// dispatches may read them safely.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*domain.WorkerDescriptor
	logger  *slog.Logger
}

// NewRegistry creates an empty worker registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		workers: make(map[string]*domain.WorkerDescriptor),
		logger:  logger,
	}
}

// Register adds a worker. Returns ErrDuplicate if already registered.
func (r *Registry) Register(worker *domain.WorkerDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[worker.ID]; exists {
		return domain.NewSubSystemError("worker", "Registry.Register", domain.ErrDuplicate, worker.ID)
	}
	r.workers[worker.ID] = worker
	r.logger.Info("worker registered", "worker_id", worker.ID, "capabilities", worker.CapabilityTags)
	return nil
}

// Get returns the worker for the given ID, or ErrWorkerNotFound.
func (r *Registry) Get(workerID string) (*domain.WorkerDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workers[workerID]
	if !ok {
		return nil, domain.NewSubSystemError("worker", "Registry.Get", domain.ErrWorkerNotFound, workerID)
	}
	return w, nil
}

// List returns all registered workers sorted by ID.
func (r *Registry) List() []*domain.WorkerDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workers := make([]*domain.WorkerDescriptor, 0, len(r.workers))
	for _, w := range r.workers {
		workers = append(workers, w)
	}
	sort.Slice(workers, func(i, j int) bool {
		return workers[i].ID < workers[j].ID
	})
	return workers
}

// Remove unregisters a worker. Returns ErrWorkerNotFound if not present.
func (r *Registry) Remove(workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workers[workerID]; !ok {
		return domain.NewSubSystemError("worker", "Registry.Remove", domain.ErrWorkerNotFound, workerID)
	}
	delete(r.workers, workerID)
	r.logger.Info("worker removed", "worker_id", workerID)
	return nil
}
