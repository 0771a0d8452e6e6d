package graph

import (
	"errors"
	"reflect"
	"testing"

	"github.com/agenthive/agenthive/internal/registry"
)

// fakeSnapshot is a hand-built registry view. Unlike the real registry it
// does not reject cycles, which is exactly what the plan-time checks are
// guarding against.
type fakeSnapshot struct {
	agents map[string]registry.Agent
	edges  map[string][]registry.Edge
}

func (f *fakeSnapshot) GetAgent(id string) (registry.Agent, bool) {
	a, ok := f.agents[id]
	return a, ok
}

func (f *fakeSnapshot) ListDependencies(id string) []registry.Edge {
	return f.edges[id]
}

func snapshotOf(agentIDs []string, edges map[string][]registry.Edge) *fakeSnapshot {
	agents := make(map[string]registry.Agent, len(agentIDs))
	for _, id := range agentIDs {
		agents[id] = registry.Agent{ID: id, Name: id, Status: registry.StatusActive}
	}
	return &fakeSnapshot{agents: agents, edges: edges}
}

func required(agentID, dependsOn string) registry.Edge {
	return registry.Edge{AgentID: agentID, DependsOnID: dependsOn, Kind: registry.DependencyRequired}
}

func optional(agentID, dependsOn string) registry.Edge {
	return registry.Edge{AgentID: agentID, DependsOnID: dependsOn, Kind: registry.DependencyOptional}
}

func TestResolveLayers(t *testing.T) {
	tests := []struct {
		name   string
		agents []string
		edges  map[string][]registry.Edge
		roots  []string
		want   [][]string
	}{
		{
			name:   "Single node",
			agents: []string{"a"},
			roots:  []string{"a"},
			want:   [][]string{{"a"}},
		},
		{
			name:   "Linear chain",
			agents: []string{"a", "b", "c"},
			edges: map[string][]registry.Edge{
				"c": {required("c", "b")},
				"b": {required("b", "a")},
			},
			roots: []string{"c"},
			want:  [][]string{{"a"}, {"b"}, {"c"}},
		},
		{
			name:   "Diamond with deterministic tie order",
			agents: []string{"a", "b", "c", "d"},
			edges: map[string][]registry.Edge{
				"d": {required("d", "c"), required("d", "b")},
				"b": {required("b", "a")},
				"c": {required("c", "a")},
			},
			roots: []string{"d"},
			want:  [][]string{{"a"}, {"b", "c"}, {"d"}},
		},
		{
			name:   "Closure excludes unreachable agents",
			agents: []string{"a", "b", "z"},
			edges: map[string][]registry.Edge{
				"b": {required("b", "a")},
			},
			roots: []string{"b"},
			want:  [][]string{{"a"}, {"b"}},
		},
		{
			name:   "Optional edge still orders layers",
			agents: []string{"a", "b"},
			edges: map[string][]registry.Edge{
				"b": {optional("b", "a")},
			},
			roots: []string{"b"},
			// Optional deps don't feed Kahn in-degrees, so both agents land
			// in layer zero; readiness ordering is the scheduler's job.
			want: [][]string{{"a", "b"}},
		},
		{
			name:   "Multiple roots share prerequisites",
			agents: []string{"a", "b", "c"},
			edges: map[string][]registry.Edge{
				"b": {required("b", "a")},
				"c": {required("c", "a")},
			},
			roots: []string{"c", "b"},
			want:  [][]string{{"a"}, {"b", "c"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Resolve(snapshotOf(tt.agents, tt.edges), tt.roots...)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if !reflect.DeepEqual(plan.Layers, tt.want) {
				t.Errorf("Layers = %v, want %v", plan.Layers, tt.want)
			}
		})
	}
}

func TestResolveDeterministic(t *testing.T) {
	edges := map[string][]registry.Edge{
		"d": {required("d", "b"), required("d", "c")},
		"b": {required("b", "a")},
		"c": {required("c", "a")},
	}
	first, err := Resolve(snapshotOf([]string{"a", "b", "c", "d"}, edges), "d")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	for i := 0; i < 20; i++ {
		plan, err := Resolve(snapshotOf([]string{"a", "b", "c", "d"}, edges), "d")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if !reflect.DeepEqual(plan.Layers, first.Layers) {
			t.Fatalf("iteration %d: Layers = %v, want %v", i, plan.Layers, first.Layers)
		}
		if !reflect.DeepEqual(plan.AgentIDs(), first.AgentIDs()) {
			t.Fatalf("iteration %d: AgentIDs = %v, want %v", i, plan.AgentIDs(), first.AgentIDs())
		}
	}
}

func TestResolveUnknownAgent(t *testing.T) {
	tests := []struct {
		name   string
		agents []string
		edges  map[string][]registry.Edge
		roots  []string
		wantID string
	}{
		{
			name:   "Unknown root",
			agents: []string{"a"},
			roots:  []string{"ghost"},
			wantID: "ghost",
		},
		{
			name:   "Unknown dependency",
			agents: []string{"a"},
			edges: map[string][]registry.Edge{
				"a": {required("a", "ghost")},
			},
			roots:  []string{"a"},
			wantID: "ghost",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(snapshotOf(tt.agents, tt.edges), tt.roots...)
			var unknownErr *UnknownAgentError
			if !errors.As(err, &unknownErr) {
				t.Fatalf("Resolve() error = %v, want *UnknownAgentError", err)
			}
			if unknownErr.AgentID != tt.wantID {
				t.Errorf("AgentID = %q, want %q", unknownErr.AgentID, tt.wantID)
			}
		})
	}
}

func TestResolveCycles(t *testing.T) {
	tests := []struct {
		name   string
		agents []string
		edges  map[string][]registry.Edge
		roots  []string
	}{
		{
			name:   "Self dependency",
			agents: []string{"a"},
			edges: map[string][]registry.Edge{
				"a": {required("a", "a")},
			},
			roots: []string{"a"},
		},
		{
			name:   "Direct cycle",
			agents: []string{"a", "b"},
			edges: map[string][]registry.Edge{
				"a": {required("a", "b")},
				"b": {required("b", "a")},
			},
			roots: []string{"a"},
		},
		{
			name:   "Transitive cycle",
			agents: []string{"a", "b", "c"},
			edges: map[string][]registry.Edge{
				"a": {required("a", "c")},
				"b": {required("b", "a")},
				"c": {required("c", "b")},
			},
			roots: []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(snapshotOf(tt.agents, tt.edges), tt.roots...)
			var cycleErr *CyclicDependencyError
			if !errors.As(err, &cycleErr) {
				t.Fatalf("Resolve() error = %v, want *CyclicDependencyError", err)
			}
		})
	}
}

func TestResolveMarksDisabledSkipped(t *testing.T) {
	snap := snapshotOf([]string{"a", "b", "c", "d"}, map[string][]registry.Edge{
		"b": {required("b", "a")},
		"c": {required("c", "b")},
		"d": {optional("d", "b"), required("d", "x_root")},
	})
	snap.agents["x_root"] = registry.Agent{ID: "x_root", Name: "x_root", Status: registry.StatusActive}
	disabled := snap.agents["a"]
	disabled.Status = registry.StatusDisabled
	snap.agents["a"] = disabled

	plan, err := Resolve(snap, "c", "d")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	wantSkipped := map[string]bool{"a": true, "b": true, "c": true, "d": false, "x_root": false}
	for id, want := range wantSkipped {
		n, ok := plan.Node(id)
		if !ok {
			t.Fatalf("plan is missing node %s", id)
		}
		if n.Skipped != want {
			t.Errorf("node %s: Skipped = %v, want %v (reason %q)", id, n.Skipped, want, n.SkipReason)
		}
	}
}

func TestPlanDependents(t *testing.T) {
	plan, err := Resolve(snapshotOf([]string{"a", "b", "c"}, map[string][]registry.Edge{
		"b": {required("b", "a")},
		"c": {required("c", "a"), optional("c", "b")},
	}), "b", "c")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	deps := plan.Dependents()
	if got := deps["a"]; !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Errorf("dependents of a = %v, want [b c]", got)
	}
	if got := deps["b"]; !reflect.DeepEqual(got, []string{"c"}) {
		t.Errorf("dependents of b = %v, want [c]", got)
	}
}
