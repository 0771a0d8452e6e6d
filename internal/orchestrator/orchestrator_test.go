package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthive/agenthive/internal/events"
	"github.com/agenthive/agenthive/internal/executor"
	"github.com/agenthive/agenthive/internal/graph"
	"github.com/agenthive/agenthive/internal/memory"
	"github.com/agenthive/agenthive/internal/registry"
	"github.com/agenthive/agenthive/internal/scheduler"
	"github.com/agenthive/agenthive/internal/tracker"
)

type harness struct {
	reg     *registry.Registry
	tracker *tracker.InMemoryTracker
	bus     *events.Bus
	orc     *Orchestrator
	ids     map[string]string
}

func newHarness(t *testing.T, exec executor.Executor) *harness {
	t.Helper()
	h := &harness{
		reg:     registry.New(nil),
		tracker: tracker.NewInMemoryTracker(),
		bus:     events.NewBus(),
		ids:     make(map[string]string),
	}
	t.Cleanup(h.bus.Close)
	h.orc = New(Config{}, h.reg, h.tracker, memory.NewInMemoryStore(), exec, h.bus, nil)
	return h
}

func (h *harness) agent(t *testing.T, name string) string {
	t.Helper()
	agent, err := h.reg.Register(registry.Agent{Name: name, Type: "test"})
	require.NoError(t, err)
	h.ids[name] = agent.ID
	return agent.ID
}

func TestRunEndToEnd(t *testing.T) {
	var mu sync.Mutex
	var ran []string
	exec := executor.Func(func(_ context.Context, agent registry.Agent, in executor.Input) (executor.Output, error) {
		mu.Lock()
		ran = append(ran, agent.Name)
		mu.Unlock()
		return executor.Output{Payload: map[string]any{"task": in.Payload["task"]}}, nil
	})

	h := newHarness(t, exec)
	h.agent(t, "researcher")
	h.agent(t, "writer")
	require.NoError(t, h.reg.AddDependency(h.ids["writer"], h.ids["researcher"], registry.DependencyRequired))

	finished := h.bus.Subscribe(8, events.RunFinished)

	report, err := h.orc.Run(context.Background(), Request{
		RootAgentIDs: []string{h.ids["writer"]},
		Input:        map[string]any{"task": "quarterly summary"},
	})
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.NotEmpty(t, report.RunID)

	assert.Equal(t, []string{"researcher", "writer"}, ran)
	for _, n := range report.Nodes {
		assert.Equal(t, scheduler.StatusSucceeded, n.Status)
		assert.Equal(t, "quarterly summary", n.Output["task"])
	}

	ev := <-finished
	assert.Equal(t, report.RunID, ev.RunID)
	require.NotNil(t, ev.Counts)
	assert.Equal(t, 2, ev.Counts.Succeeded)

	// History is queryable through the orchestrator facade.
	records, err := h.orc.History(context.Background(), tracker.Filter{RunID: report.RunID})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestRunRejectsEmptyRoots(t *testing.T) {
	h := newHarness(t, executor.Func(func(context.Context, registry.Agent, executor.Input) (executor.Output, error) {
		return executor.Output{}, nil
	}))

	_, err := h.orc.Run(context.Background(), Request{})
	require.Error(t, err)
}

func TestRunAbortsOnUnknownAgent(t *testing.T) {
	dispatched := false
	h := newHarness(t, executor.Func(func(context.Context, registry.Agent, executor.Input) (executor.Output, error) {
		dispatched = true
		return executor.Output{}, nil
	}))

	_, err := h.orc.Run(context.Background(), Request{RootAgentIDs: []string{"no-such-id"}})
	require.Error(t, err)
	var unknownErr *graph.UnknownAgentError
	assert.True(t, errors.As(err, &unknownErr))
	assert.False(t, dispatched, "plan errors abort before any dispatch")

	records, err := h.tracker.Query(context.Background(), tracker.Filter{})
	require.NoError(t, err)
	assert.Empty(t, records, "no execution records for an aborted run")
}

// cyclicSnapshot bypasses the registry's creation-time cycle check to prove
// the plan-time check still aborts with no partial execution.
type cyclicSnapshot struct{}

func (cyclicSnapshot) GetAgent(id string) (registry.Agent, bool) {
	return registry.Agent{ID: id, Name: id, Status: registry.StatusActive}, true
}

func (cyclicSnapshot) ListDependencies(id string) []registry.Edge {
	other := map[string]string{"a": "b", "b": "a"}[id]
	return []registry.Edge{{AgentID: id, DependsOnID: other, Kind: registry.DependencyRequired}}
}

func TestRunAbortsOnCycle(t *testing.T) {
	tr := tracker.NewInMemoryTracker()
	exec := executor.Func(func(context.Context, registry.Agent, executor.Input) (executor.Output, error) {
		t.Error("dispatched into a cyclic plan")
		return executor.Output{}, nil
	})
	orc := New(Config{}, cyclicSnapshot{}, tr, memory.NewInMemoryStore(), exec, nil, nil)

	_, err := orc.Run(context.Background(), Request{RootAgentIDs: []string{"a"}})
	require.Error(t, err)
	var cycleErr *graph.CyclicDependencyError
	assert.True(t, errors.As(err, &cycleErr))

	records, err := tr.Query(context.Background(), tracker.Filter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRunPerRunOverrides(t *testing.T) {
	var mu sync.Mutex
	var runIDs []string
	exec := executor.Func(func(_ context.Context, _ registry.Agent, in executor.Input) (executor.Output, error) {
		mu.Lock()
		runIDs = append(runIDs, in.RunID)
		mu.Unlock()
		return executor.Output{}, nil
	})

	h := newHarness(t, exec)
	h.agent(t, "solo")

	first, err := h.orc.Run(context.Background(), Request{
		RootAgentIDs:   []string{h.ids["solo"]},
		MaxConcurrency: 1,
		TimeoutSeconds: 30,
	})
	require.NoError(t, err)
	second, err := h.orc.Run(context.Background(), Request{RootAgentIDs: []string{h.ids["solo"]}})
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID, "each run gets a fresh id")
	assert.Equal(t, []string{first.RunID, second.RunID}, runIDs)
}
