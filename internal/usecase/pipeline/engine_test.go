package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"campaignflow/internal/domain"
	"campaignflow/internal/infra/logger"
)

// --- mocks ---

// mockToolInvoker maps tool ids to canned outputs or errors and records the
// order of invocations.
type mockToolInvoker struct {
	mu      sync.Mutex
	outputs map[string]any
	errs    map[string]error
	calls   []string
}

func (m *mockToolInvoker) Invoke(_ context.Context, toolID string, input any) (any, error) {
	m.mu.Lock()
	m.calls = append(m.calls, toolID)
	m.mu.Unlock()

	if err, ok := m.errs[toolID]; ok {
		return nil, err
	}
	if out, ok := m.outputs[toolID]; ok {
		return out, nil
	}
	return input, nil
}

type mockAgentInvoker struct {
	generate func(agentID, prompt string, taskContext any) (any, error)
}

func (m *mockAgentInvoker) Generate(_ context.Context, agentID, prompt string, taskContext any) (any, error) {
	if m.generate != nil {
		return m.generate(agentID, prompt, taskContext)
	}
	return fmt.Sprintf("%s:%s", agentID, prompt), nil
}

func newTestEngine(t *testing.T, tools domain.ToolInvoker) *Engine {
	t.Helper()
	return New(
		domain.Invokers{Tools: tools, Agents: &mockAgentInvoker{}},
		Config{},
		nil,
		logger.Discard(),
	)
}

func toolStep(id, toolID string) domain.StepSpec {
	return domain.StepSpec{ID: id, Kind: domain.StepTool, ToolID: toolID}
}

func simpleSpec(steps ...domain.StepSpec) *domain.WorkflowSpec {
	return &domain.WorkflowSpec{ID: "test", Steps: steps}
}

// --- tests ---

func TestRunOutputsInDeclaredOrder(t *testing.T) {
	tools := &mockToolInvoker{outputs: map[string]any{
		"t1": "a", "t2": "b", "t3": "c", "t4": "d",
	}}
	eng := newTestEngine(t, tools)

	spec := simpleSpec(
		toolStep("s1", "t1"),
		toolStep("s2", "t2"),
		toolStep("s3", "t3"),
		toolStep("s4", "t4"),
	)

	result, err := eng.Run(context.Background(), spec, map[string]any{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"s1", "s2", "s3", "s4"}
	if got := result.Context.Outputs.Keys(); !reflect.DeepEqual(got, want) {
		t.Fatalf("output keys = %v, want %v", got, want)
	}
	if result.Context.Status != domain.RunCompleted {
		t.Fatalf("status = %s, want completed", result.Context.Status)
	}
}

func TestRunStepNeverSeesLaterOutputs(t *testing.T) {
	eng := newTestEngine(t, &mockToolInvoker{outputs: map[string]any{"t1": "a", "t2": "b"}})

	var firstSaw []string
	spec := simpleSpec(
		domain.StepSpec{
			ID: "s1", Kind: domain.StepTool, ToolID: "t1",
			ResolveInput: func(trigger any, prior *domain.Outputs) (any, error) {
				firstSaw = prior.Keys()
				return trigger, nil
			},
		},
		toolStep("s2", "t2"),
	)

	if _, err := eng.Run(context.Background(), spec, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(firstSaw) != 0 {
		t.Fatalf("step 1 observed outputs %v before running", firstSaw)
	}
}

func TestRunSkippedStepAbsentFromOutputs(t *testing.T) {
	eng := newTestEngine(t, &mockToolInvoker{outputs: map[string]any{"t1": "a", "t3": "c"}})

	spec := simpleSpec(
		toolStep("s1", "t1"),
		domain.StepSpec{
			ID: "s2", Kind: domain.StepTool, ToolID: "t2",
			Condition: func(any, *domain.Outputs) (bool, error) { return false, nil },
		},
		toolStep("s3", "t3"),
	)

	result, err := eng.Run(context.Background(), spec, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := result.Context.Outputs.Get("s2"); ok {
		t.Fatal("skipped step s2 has an output entry")
	}
	if want := []string{"s2"}; !reflect.DeepEqual(result.Context.Skipped, want) {
		t.Fatalf("skipped = %v, want %v", result.Context.Skipped, want)
	}
	if want := []string{"s1", "s3"}; !reflect.DeepEqual(result.Context.Outputs.Keys(), want) {
		t.Fatalf("output keys = %v, want %v", result.Context.Outputs.Keys(), want)
	}
}

func TestRunLookupOfSkippedStepFails(t *testing.T) {
	eng := newTestEngine(t, &mockToolInvoker{})

	spec := simpleSpec(
		domain.StepSpec{
			ID: "s1", Kind: domain.StepTool, ToolID: "t1",
			Condition: func(any, *domain.Outputs) (bool, error) { return false, nil },
		},
		domain.StepSpec{
			ID: "s2", Kind: domain.StepTool, ToolID: "t2",
			ResolveInput: func(_ any, prior *domain.Outputs) (any, error) {
				return prior.Lookup("s1") // unconditional reference
			},
		},
	)

	result, err := eng.Run(context.Background(), spec, nil)
	if !errors.Is(err, domain.ErrMissingDependency) {
		t.Fatalf("err = %v, want ErrMissingDependency", err)
	}
	if result.Context.Status != domain.RunFailed {
		t.Fatalf("status = %s, want failed", result.Context.Status)
	}
	if result.Context.Failure == nil || result.Context.Failure.StepID != "s1" {
		t.Fatalf("failure = %+v, want step s1 named", result.Context.Failure)
	}
}

func TestRunFailFastStopsChain(t *testing.T) {
	tools := &mockToolInvoker{
		outputs: map[string]any{"t1": "a", "t3": "c", "t4": "d"},
		errs:    map[string]error{"t2": fmt.Errorf("boom")},
	}
	eng := newTestEngine(t, tools)

	reduceCalled := false
	spec := &domain.WorkflowSpec{
		ID: "test",
		Steps: []domain.StepSpec{
			toolStep("s1", "t1"),
			toolStep("s2", "t2"),
			toolStep("s3", "t3"),
			toolStep("s4", "t4"),
		},
		Reduce: func(outputs *domain.Outputs, trigger any) (any, error) {
			reduceCalled = true
			return outputs.Map(), nil
		},
	}

	result, err := eng.Run(context.Background(), spec, nil)
	if !errors.Is(err, domain.ErrStepFailed) {
		t.Fatalf("err = %v, want ErrStepFailed", err)
	}
	if want := []string{"s1"}; !reflect.DeepEqual(result.Context.Outputs.Keys(), want) {
		t.Fatalf("output keys = %v, want %v", result.Context.Outputs.Keys(), want)
	}
	if want := []string{"t1", "t2"}; !reflect.DeepEqual(tools.calls, want) {
		t.Fatalf("tool calls = %v, want %v (steps after the failure must not run)", tools.calls, want)
	}
	if reduceCalled {
		t.Fatal("reduce was called after a failed step")
	}
	if result.Context.Failure.StepID != "s2" {
		t.Fatalf("failure step = %q, want s2", result.Context.Failure.StepID)
	}
}

func TestRunDeterministic(t *testing.T) {
	spec := simpleSpec(toolStep("s1", "t1"), toolStep("s2", "t2"), toolStep("s3", "t3"))
	trigger := map[string]any{"campaign": "spring-launch"}

	runOnce := func() ([]string, any) {
		eng := newTestEngine(t, &mockToolInvoker{outputs: map[string]any{
			"t1": "a", "t2": "b", "t3": "c",
		}})
		result, err := eng.Run(context.Background(), spec, trigger)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return result.Context.Outputs.Keys(), result.Output
	}

	keys1, out1 := runOnce()
	keys2, out2 := runOnce()
	if !reflect.DeepEqual(keys1, keys2) {
		t.Fatalf("key order differs: %v vs %v", keys1, keys2)
	}
	if !reflect.DeepEqual(out1, out2) {
		t.Fatalf("outputs differ: %v vs %v", out1, out2)
	}
}

func TestRunTriggerValidationFailsFast(t *testing.T) {
	tools := &mockToolInvoker{}
	eng := newTestEngine(t, tools)

	spec := simpleSpec(toolStep("s1", "t1"))
	spec.InputSchema = domain.MustCompileSchema(`{
		"type": "object",
		"properties": {"source": {"type": "string"}},
		"required": ["source"]
	}`)

	_, err := eng.Run(context.Background(), spec, map[string]any{"wrong": true})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if len(tools.calls) != 0 {
		t.Fatalf("tools invoked %v despite invalid trigger", tools.calls)
	}
}

func TestRunStepInputValidationAborts(t *testing.T) {
	eng := newTestEngine(t, &mockToolInvoker{outputs: map[string]any{"t1": "a"}})

	spec := simpleSpec(
		toolStep("s1", "t1"),
		domain.StepSpec{
			ID: "s2", Kind: domain.StepTool, ToolID: "t2",
			InputSchema: domain.MustCompileSchema(`{"type": "number"}`),
			ResolveInput: func(any, *domain.Outputs) (any, error) {
				return "not a number", nil
			},
		},
	)

	result, err := eng.Run(context.Background(), spec, nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if result.Context.Failure.StepID != "s2" {
		t.Fatalf("failure step = %q, want s2", result.Context.Failure.StepID)
	}
	// s1's output stays visible for diagnostics.
	if _, ok := result.Context.Outputs.Get("s1"); !ok {
		t.Fatal("completed step s1 missing from diagnostic outputs")
	}
}

func TestRunStepOutputValidationAborts(t *testing.T) {
	eng := newTestEngine(t, &mockToolInvoker{outputs: map[string]any{"t1": "a string"}})

	spec := simpleSpec(domain.StepSpec{
		ID: "s1", Kind: domain.StepTool, ToolID: "t1",
		OutputSchema: domain.MustCompileSchema(`{"type": "number"}`),
	})

	result, err := eng.Run(context.Background(), spec, nil)
	if !errors.Is(err, domain.ErrStepFailed) {
		t.Fatalf("err = %v, want ErrStepFailed", err)
	}
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want wrapped ErrValidation", err)
	}
	if result.Context.Outputs.Len() != 0 {
		t.Fatalf("invalid output was stored: %v", result.Context.Outputs.Keys())
	}
}

func TestRunRejectsDuplicateStepIDs(t *testing.T) {
	eng := newTestEngine(t, &mockToolInvoker{})
	tools := eng.invokers.Tools.(*mockToolInvoker)

	spec := simpleSpec(toolStep("s1", "t1"), toolStep("s1", "t2"))

	_, err := eng.Run(context.Background(), spec, nil)
	if !errors.Is(err, domain.ErrDuplicateStepID) {
		t.Fatalf("err = %v, want ErrDuplicateStepID", err)
	}
	if len(tools.calls) != 0 {
		t.Fatalf("steps ran despite duplicate ids: %v", tools.calls)
	}
}

func TestRunSubWorkflow(t *testing.T) {
	eng := newTestEngine(t, &mockToolInvoker{outputs: map[string]any{"inner": "nested result"}})

	inner := &domain.WorkflowSpec{
		ID:    "inner",
		Steps: []domain.StepSpec{toolStep("work", "inner")},
		Reduce: func(outputs *domain.Outputs, _ any) (any, error) {
			return outputs.Lookup("work")
		},
	}
	spec := simpleSpec(domain.StepSpec{ID: "nested", Kind: domain.StepSubWorkflow, Sub: inner})

	result, err := eng.Run(context.Background(), spec, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, _ := result.Context.Outputs.Get("nested")
	if got != "nested result" {
		t.Fatalf("nested output = %v, want %q", got, "nested result")
	}
}

func TestRunRecursionLimit(t *testing.T) {
	eng := New(
		domain.Invokers{Tools: &mockToolInvoker{}},
		Config{MaxDepth: 3},
		nil,
		logger.Discard(),
	)

	// Self-referential spec: each level nests another run of itself.
	spec := &domain.WorkflowSpec{ID: "loop"}
	spec.Steps = []domain.StepSpec{{ID: "again", Kind: domain.StepSubWorkflow, Sub: spec}}

	_, err := eng.Run(context.Background(), spec, nil)
	if !errors.Is(err, domain.ErrRecursionLimit) {
		t.Fatalf("err = %v, want ErrRecursionLimit", err)
	}
}

func TestRunMaxRunningLimit(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	eng := New(
		domain.Invokers{Tools: blockingTool{block: block, started: started}},
		Config{MaxRunning: 1},
		nil,
		logger.Discard(),
	)

	spec := simpleSpec(toolStep("s1", "t1"))

	done := make(chan error, 1)
	go func() {
		_, err := eng.Run(context.Background(), spec, nil)
		done <- err
	}()
	<-started

	_, err := eng.Run(context.Background(), spec, nil)
	if !errors.Is(err, domain.ErrLimitReached) {
		t.Fatalf("err = %v, want ErrLimitReached", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
}

// recordingBus captures published event types in order.
type recordingBus struct {
	mu    sync.Mutex
	types []domain.EventType
}

func (b *recordingBus) Publish(_ context.Context, event domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.types = append(b.types, event.Type)
}

func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(domain.EventHandler) func()               { return func() {} }
func (b *recordingBus) Close()                                                {}

func (b *recordingBus) published() []domain.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.EventType, len(b.types))
	copy(out, b.types)
	return out
}

func TestRunEmitsLifecycleEvents(t *testing.T) {
	bus := &recordingBus{}
	eng := New(
		domain.Invokers{Tools: &mockToolInvoker{outputs: map[string]any{"t1": "a"}}},
		Config{},
		bus,
		logger.Discard(),
	)

	spec := simpleSpec(
		toolStep("s1", "t1"),
		domain.StepSpec{
			ID: "s2", Kind: domain.StepTool, ToolID: "t2",
			Condition: func(any, *domain.Outputs) (bool, error) { return false, nil },
		},
	)
	if _, err := eng.Run(context.Background(), spec, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []domain.EventType{
		domain.EventWorkflowStarted,
		domain.EventStepCompleted,
		domain.EventStepSkipped,
		domain.EventWorkflowCompleted,
	}
	if got := bus.published(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestRunEmitsFailureEvents(t *testing.T) {
	bus := &recordingBus{}
	eng := New(
		domain.Invokers{Tools: &mockToolInvoker{errs: map[string]error{"t1": fmt.Errorf("boom")}}},
		Config{},
		bus,
		logger.Discard(),
	)

	if _, err := eng.Run(context.Background(), simpleSpec(toolStep("s1", "t1")), nil); err == nil {
		t.Fatal("Run succeeded, want failure")
	}

	want := []domain.EventType{
		domain.EventWorkflowStarted,
		domain.EventStepFailed,
		domain.EventWorkflowFailed,
	}
	if got := bus.published(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

type blockingTool struct {
	block   chan struct{}
	started chan struct{}
}

func (b blockingTool) Invoke(_ context.Context, _ string, input any) (any, error) {
	b.started <- struct{}{}
	<-b.block
	return input, nil
}

// The canonical three-step scenario: fetchData, transform gated on the fetch
// count, summarize guarding correctly against the skipped step.
func TestRunConditionalScenario(t *testing.T) {
	eng := newTestEngine(t, &mockToolInvoker{outputs: map[string]any{
		"fetch":     map[string]any{"count": 0},
		"transform": "transformed",
		"summarize": "summary",
	}})

	spec := simpleSpec(
		toolStep("fetchData", "fetch"),
		domain.StepSpec{
			ID: "transform", Kind: domain.StepTool, ToolID: "transform",
			Condition: func(_ any, prior *domain.Outputs) (bool, error) {
				fetched, err := prior.Lookup("fetchData")
				if err != nil {
					return false, err
				}
				count, _ := fetched.(map[string]any)["count"].(int)
				return count > 0, nil
			},
		},
		domain.StepSpec{
			ID: "summarize", Kind: domain.StepTool, ToolID: "summarize",
			ResolveInput: func(trigger any, prior *domain.Outputs) (any, error) {
				input := map[string]any{"trigger": trigger}
				// Guarded lookup: absence of transform is fine.
				if v, ok := prior.Get("transform"); ok {
					input["transform"] = v
				}
				return input, nil
			},
		},
	)

	result, err := eng.Run(context.Background(), spec, map[string]any{"source": "x"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := []string{"fetchData", "summarize"}; !reflect.DeepEqual(result.Context.Outputs.Keys(), want) {
		t.Fatalf("output keys = %v, want %v", result.Context.Outputs.Keys(), want)
	}
}

func TestRunAgentStep(t *testing.T) {
	eng := New(
		domain.Invokers{Agents: &mockAgentInvoker{
			generate: func(agentID, prompt string, taskContext any) (any, error) {
				return agentID + " says: " + prompt, nil
			},
		}},
		Config{},
		nil,
		logger.Discard(),
	)

	spec := simpleSpec(domain.StepSpec{
		ID: "brief", Kind: domain.StepAgent, AgentID: "copywriter", Prompt: "write a tagline",
	})

	result, err := eng.Run(context.Background(), spec, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, _ := result.Context.Outputs.Get("brief")
	if got != "copywriter says: write a tagline" {
		t.Fatalf("agent output = %v", got)
	}
}

func TestRunReduceOutputValidated(t *testing.T) {
	eng := newTestEngine(t, &mockToolInvoker{outputs: map[string]any{"t1": "a"}})

	spec := simpleSpec(toolStep("s1", "t1"))
	spec.OutputSchema = domain.MustCompileSchema(`{"type": "number"}`)
	spec.Reduce = func(outputs *domain.Outputs, _ any) (any, error) {
		return "not a number", nil
	}

	result, err := eng.Run(context.Background(), spec, nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if result.Context.Status != domain.RunFailed {
		t.Fatalf("status = %s, want failed", result.Context.Status)
	}
}

func TestRunConcurrentRunsIndependent(t *testing.T) {
	eng := newTestEngine(t, &mockToolInvoker{})
	spec := simpleSpec(domain.StepSpec{
		ID: "echo", Kind: domain.StepTool, ToolID: "t",
		ResolveInput: func(trigger any, _ *domain.Outputs) (any, error) { return trigger, nil },
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			trigger := fmt.Sprintf("run-%d", n)
			result, err := eng.Run(context.Background(), spec, trigger)
			if err != nil {
				t.Errorf("Run %d: %v", n, err)
				return
			}
			if got, _ := result.Context.Outputs.Get("echo"); got != trigger {
				t.Errorf("run %d saw output %v, want %v", n, got, trigger)
			}
		}(i)
	}
	wg.Wait()
}
