package graph

import "sort"

// Node is one agent's entry in an execution plan. Requires and Optional
// list predecessor agent ids within the plan; Layer is the Kahn layer the
// node was assigned to (0 = no unresolved required dependencies).
type Node struct {
	AgentID  string
	Layer    int
	Requires []string
	Optional []string
	// Skipped marks nodes resolved to skipped at plan time: the agent is
	// disabled, or a required prerequisite is. The scheduler records these
	// without dispatching them.
	Skipped    bool
	SkipReason string
}

// Plan is the immutable, layered execution order for one run: the subgraph
// reachable from the requested roots, partitioned into dependency layers.
// It is recomputed per run and never mutated after Resolve returns.
type Plan struct {
	Roots  []string
	Layers [][]string
	nodes  map[string]*Node
}

// Node returns the plan entry for the given agent id.
func (p *Plan) Node(agentID string) (*Node, bool) {
	n, ok := p.nodes[agentID]
	return n, ok
}

// AgentIDs returns every planned agent id in layer order, ties broken by id.
func (p *Plan) AgentIDs() []string {
	out := make([]string, 0, len(p.nodes))
	for _, layer := range p.Layers {
		out = append(out, layer...)
	}
	return out
}

// Size returns the number of planned nodes.
func (p *Plan) Size() int { return len(p.nodes) }

// Dependents returns, for each agent id, the planned agents that list it as
// a predecessor (required or optional). Slices are sorted for determinism.
func (p *Plan) Dependents() map[string][]string {
	deps := make(map[string][]string)
	for id, n := range p.nodes {
		for _, pre := range n.Requires {
			deps[pre] = append(deps[pre], id)
		}
		for _, pre := range n.Optional {
			deps[pre] = append(deps[pre], id)
		}
	}
	for _, list := range deps {
		sort.Strings(list)
	}
	return deps
}
