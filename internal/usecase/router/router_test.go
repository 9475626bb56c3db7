package router

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campaignflow/internal/domain"
	"campaignflow/internal/infra/logger"
)

func newTestRouter(t *testing.T) (*Router, *Registry) {
	t.Helper()
	reg := NewRegistry(logger.Discard())
	r := New(reg, nil, Policy{}, nil, logger.Discard())
	return r, reg
}

func echoWorker(id string) *domain.WorkerDescriptor {
	return &domain.WorkerDescriptor{
		ID: id,
		Invoke: func(_ context.Context, task string, _ any) (any, error) {
			return id + ": " + task, nil
		},
	}
}

func failingWorker(id string) *domain.WorkerDescriptor {
	return &domain.WorkerDescriptor{
		ID: id,
		Invoke: func(context.Context, string, any) (any, error) {
			return nil, fmt.Errorf("%s unavailable", id)
		},
	}
}

func TestRouteUrgentSimpleGoesDirect(t *testing.T) {
	r, _ := newTestRouter(t)

	decision := r.Route(context.Background(), "fix the email subject line asap")

	assert.Equal(t, domain.ComplexityLow, decision.Complexity)
	assert.Equal(t, domain.UrgencyHigh, decision.Urgency)
	assert.Equal(t, "email", decision.Domain)
	assert.Equal(t, []string{"email-marketer"}, decision.SelectedWorkers)
}

func TestRouteHighComplexityBuildsChain(t *testing.T) {
	r, _ := newTestRouter(t)

	decision := r.Route(context.Background(), "comprehensive multi-channel seo campaign strategy")

	assert.Equal(t, domain.ComplexityHigh, decision.Complexity)
	assert.Equal(t, "seo", decision.Domain)
	// Specialist spliced at position 2, reviewer always last.
	assert.Equal(t,
		[]string{"researcher", "analyst", "seo-specialist", "copywriter", "optimizer", "reviewer"},
		decision.SelectedWorkers)
}

func TestRouteHighComplexityNoSpecialist(t *testing.T) {
	r, _ := newTestRouter(t)

	decision := r.Route(context.Background(), "comprehensive rebrand campaign strategy")

	assert.Equal(t, domain.ComplexityHigh, decision.Complexity)
	assert.Equal(t, "brand", decision.Domain)
	assert.Equal(t,
		[]string{"researcher", "analyst", "copywriter", "optimizer", "reviewer"},
		decision.SelectedWorkers)
}

func TestRouteDefaultPairsWithGeneralist(t *testing.T) {
	r, _ := newTestRouter(t)

	// Medium complexity, no urgency.
	decision := r.Route(context.Background(), "optimize the blog post")
	assert.Equal(t, domain.ComplexityMedium, decision.Complexity)
	assert.Equal(t, []string{"copywriter", "generalist"}, decision.SelectedWorkers)

	// Low complexity without urgency takes the same branch.
	decision = r.Route(context.Background(), "fix a typo in the footer")
	assert.Equal(t, domain.ComplexityLow, decision.Complexity)
	assert.Equal(t, []string{"brand-strategist", "generalist"}, decision.SelectedWorkers)
}

func TestRouteUnmappedDomainFallsBackToGeneralist(t *testing.T) {
	reg := NewRegistry(logger.Discard())
	classifier := NewClassifier(KeywordTables{DefaultDomain: "ops"})
	r := New(reg, classifier, Policy{}, nil, logger.Discard())

	decision := r.Route(context.Background(), "do the thing asap")
	assert.Equal(t, []string{"generalist"}, decision.SelectedWorkers)
}

func TestRouteDeterministic(t *testing.T) {
	r, _ := newTestRouter(t)
	task := "urgent comprehensive social campaign strategy"

	first := r.Route(context.Background(), task)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, r.Route(context.Background(), task))
	}
}

func TestDispatchChainAccumulatesContext(t *testing.T) {
	r, reg := newTestRouter(t)

	var priorLens []int
	for _, id := range []string{"w1", "w2", "w3"} {
		id := id
		require.NoError(t, reg.Register(&domain.WorkerDescriptor{
			ID: id,
			Invoke: func(_ context.Context, task string, taskContext any) (any, error) {
				chainCtx, ok := taskContext.(*ChainContext)
				require.True(t, ok, "worker received %T", taskContext)
				priorLens = append(priorLens, len(chainCtx.Prior))
				assert.Equal(t, "base", chainCtx.Base)
				return id + " done", nil
			},
		}))
	}

	decision := domain.RoutingDecision{SelectedWorkers: []string{"w1", "w2", "w3"}}
	result, err := r.Dispatch(context.Background(), decision, "task", "base")
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2}, priorLens, "each hop sees all prior outputs")
	assert.False(t, result.Partial)
	assert.Equal(t, "w3 done", result.Primary)
	require.Len(t, result.Outputs, 3)
	assert.Equal(t, "w1", result.Outputs[0].WorkerID)
	assert.Equal(t, "w3", result.Outputs[2].WorkerID)
}

func TestDispatchTruncatesOnFailure(t *testing.T) {
	r, reg := newTestRouter(t)
	require.NoError(t, reg.Register(echoWorker("w1")))
	require.NoError(t, reg.Register(failingWorker("w2")))

	invoked := false
	require.NoError(t, reg.Register(&domain.WorkerDescriptor{
		ID: "w3",
		Invoke: func(context.Context, string, any) (any, error) {
			invoked = true
			return "unreachable", nil
		},
	}))

	decision := domain.RoutingDecision{SelectedWorkers: []string{"w1", "w2", "w3"}}
	result, err := r.Dispatch(context.Background(), decision, "task", nil)
	require.NoError(t, err, "truncation is not a dispatch error")

	assert.True(t, result.Partial)
	require.Error(t, result.Err)
	require.Len(t, result.Outputs, 1, "only the hop before the failure completed")
	assert.Equal(t, "w1", result.Outputs[0].WorkerID)
	assert.False(t, invoked, "workers after the failure must not run")
}

func TestDispatchTruncatesOnMissingWorker(t *testing.T) {
	r, reg := newTestRouter(t)
	require.NoError(t, reg.Register(echoWorker("w1")))

	decision := domain.RoutingDecision{SelectedWorkers: []string{"w1", "ghost"}}
	result, err := r.Dispatch(context.Background(), decision, "task", nil)
	require.NoError(t, err)

	assert.True(t, result.Partial)
	assert.True(t, errors.Is(result.Err, domain.ErrWorkerNotFound))
	assert.Len(t, result.Outputs, 1)
}

func TestDispatchRecordsInteractions(t *testing.T) {
	r, reg := newTestRouter(t)
	require.NoError(t, reg.Register(echoWorker("w1")))
	require.NoError(t, reg.Register(failingWorker("w2")))

	decision := domain.RoutingDecision{SelectedWorkers: []string{"w1", "w2"}}
	_, err := r.Dispatch(context.Background(), decision, "write the brief", nil)
	require.NoError(t, err)

	records := r.InteractionLog("w1")
	require.Len(t, records, 1)
	assert.Equal(t, "write the brief", records[0].Task)
	assert.Equal(t, "w1: write the brief", records[0].Result)
	assert.False(t, records[0].IsError)

	records = r.InteractionLog("w2")
	require.Len(t, records, 1)
	assert.True(t, records[0].IsError)

	summary := r.Summary()
	require.Len(t, summary, 2)
	assert.Equal(t, "w1", summary[0].WorkerID)
	assert.Equal(t, 1, summary[0].Count)
}

func TestBuildChainSpliceClamped(t *testing.T) {
	reg := NewRegistry(logger.Discard())
	r := New(reg, nil, Policy{
		BaseChain: []string{"a", "b"},
		Reviewer:  "rev",
		Specialists: map[string]Splice{
			"far":  {WorkerID: "x", Position: 99},
			"neg":  {WorkerID: "y", Position: -1},
			"zero": {WorkerID: "z", Position: 0},
		},
	}, nil, logger.Discard())

	assert.Equal(t, []string{"a", "b", "x", "rev"}, r.buildChain("far"))
	assert.Equal(t, []string{"y", "a", "b", "rev"}, r.buildChain("neg"))
	assert.Equal(t, []string{"z", "a", "b", "rev"}, r.buildChain("zero"))
	assert.Equal(t, []string{"a", "b", "rev"}, r.buildChain("plain"))
}
