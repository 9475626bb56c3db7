package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"campaignflow/internal/domain"
)

// Catalog holds compiled workflow specs by id and runs them through an
// engine. Specs are immutable once registered; the map is swapped atomically
// on reload so concurrent runs always see a consistent snapshot.
type Catalog struct {
	engine *Engine
	specs  atomic.Value // map[string]*domain.WorkflowSpec
}

// NewCatalog creates an empty catalog backed by the given engine.
func NewCatalog(engine *Engine) *Catalog {
	c := &Catalog{engine: engine}
	c.specs.Store(make(map[string]*domain.WorkflowSpec))
	return c
}

// LoadDir reads declarative workflow definitions (*.yaml, *.yml) from dir,
// compiles them, and replaces the catalog contents. Unreadable or invalid
// files are skipped with a warning; a missing directory is not an error.
func (c *Catalog) LoadDir(dir string) error {
	if dir == "" {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			c.engine.logger.Debug("workflow directory does not exist", "dir", dir)
			return nil
		}
		return fmt.Errorf("read workflow dir: %w", err)
	}

	loaded := make(map[string]*domain.WorkflowSpec)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			c.engine.logger.Warn("skip unreadable workflow file", "file", entry.Name(), "error", err)
			continue
		}

		var def WorkflowDef
		if err := yaml.Unmarshal(data, &def); err != nil {
			c.engine.logger.Warn("skip invalid workflow file", "file", entry.Name(), "error", err)
			continue
		}
		if def.ID == "" {
			def.ID = strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		}

		spec, err := Compile(&def)
		if err != nil {
			c.engine.logger.Warn("skip invalid workflow", "file", entry.Name(), "error", err)
			continue
		}
		loaded[spec.ID] = spec
	}

	c.specs.Store(loaded)
	c.engine.logger.Info("workflows loaded", "count", len(loaded))
	return nil
}

// Register adds a programmatic spec. Returns ErrDuplicate when the id is
// already taken.
func (c *Catalog) Register(spec *domain.WorkflowSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	current := c.specs.Load().(map[string]*domain.WorkflowSpec)
	if _, exists := current[spec.ID]; exists {
		return domain.NewSubSystemError("workflow", "Catalog.Register", domain.ErrDuplicate, spec.ID)
	}

	next := make(map[string]*domain.WorkflowSpec, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[spec.ID] = spec
	c.specs.Store(next)
	return nil
}

// Get returns the spec for a workflow id, or ErrWorkflowNotFound.
func (c *Catalog) Get(workflowID string) (*domain.WorkflowSpec, error) {
	specs := c.specs.Load().(map[string]*domain.WorkflowSpec)
	spec, ok := specs[workflowID]
	if !ok {
		return nil, domain.NewSubSystemError("workflow", "Catalog.Get", domain.ErrWorkflowNotFound, workflowID)
	}
	return spec, nil
}

// List returns all registered specs sorted by id.
func (c *Catalog) List() []*domain.WorkflowSpec {
	specs := c.specs.Load().(map[string]*domain.WorkflowSpec)
	result := make([]*domain.WorkflowSpec, 0, len(specs))
	for _, s := range specs {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Run executes a named workflow against the trigger input.
func (c *Catalog) Run(ctx context.Context, workflowID string, trigger any) (*RunResult, error) {
	spec, err := c.Get(workflowID)
	if err != nil {
		return nil, err
	}
	return c.engine.Run(ctx, spec, trigger)
}
