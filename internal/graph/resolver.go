// Package graph builds execution plans from registry snapshots: it collects
// the dependency subgraph reachable from the requested roots, rejects
// cycles and unknown agents before anything is dispatched, and partitions
// the surviving nodes into deterministic dependency layers.
package graph

import (
	"sort"

	"github.com/agenthive/agenthive/internal/registry"
)

// dfs colors for cycle detection.
const (
	white = iota // unvisited
	gray         // on the current dfs stack
	black        // fully explored
)

// Resolve computes the execution plan for the given root agents. It fails
// with *UnknownAgentError or *CyclicDependencyError before any execution
// starts; a returned plan is valid in its entirety.
//
// Blocking structure (cycle detection, layering) considers required edges
// only; optional edges are carried on the nodes so the scheduler can order
// by them without letting them block.
func Resolve(snap registry.Snapshot, rootIDs ...string) (*Plan, error) {
	nodes := make(map[string]*Node)
	agents := make(map[string]registry.Agent)

	// Walk the dependency closure of the roots over all edge kinds.
	var visit func(id string) error
	visit = func(id string) error {
		if _, seen := nodes[id]; seen {
			return nil
		}
		agent, ok := snap.GetAgent(id)
		if !ok {
			return &UnknownAgentError{AgentID: id}
		}
		agents[id] = agent
		n := &Node{AgentID: id}
		nodes[id] = n

		for _, edge := range snap.ListDependencies(id) {
			switch edge.Kind {
			case registry.DependencyOptional:
				n.Optional = append(n.Optional, edge.DependsOnID)
			default:
				n.Requires = append(n.Requires, edge.DependsOnID)
			}
			if err := visit(edge.DependsOnID); err != nil {
				return err
			}
		}
		sort.Strings(n.Requires)
		sort.Strings(n.Optional)
		return nil
	}

	roots := append([]string(nil), rootIDs...)
	sort.Strings(roots)
	for _, id := range roots {
		if err := visit(id); err != nil {
			return nil, err
		}
	}

	if err := detectCycle(nodes); err != nil {
		return nil, err
	}

	layers := layerize(nodes)
	markSkipped(nodes, agents, layers)

	return &Plan{Roots: roots, Layers: layers, nodes: nodes}, nil
}

// detectCycle runs a three-color depth-first search over required edges and
// names the offending back-edge if one is found. The registry rejects
// cycles at edge-creation time, so this is the plan-time guarantee that a
// run never starts on a graph that was corrupted out of band.
func detectCycle(nodes map[string]*Node) error {
	color := make(map[string]int, len(nodes))

	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var walk func(id string) error
	walk = func(id string) error {
		color[id] = gray
		for _, pre := range nodes[id].Requires {
			switch color[pre] {
			case gray:
				return &CyclicDependencyError{From: id, To: pre}
			case white:
				if err := walk(pre); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, id := range ids {
		if color[id] == white {
			if err := walk(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// layerize partitions the nodes with Kahn's algorithm: repeatedly remove
// zero-in-degree nodes, ties broken by agent id so plans are deterministic.
// Layer numbers are stored back onto the nodes.
func layerize(nodes map[string]*Node) [][]string {
	remaining := make(map[string]int, len(nodes)) // unresolved required deps
	dependents := make(map[string][]string)
	for id, n := range nodes {
		remaining[id] = len(n.Requires)
		for _, pre := range n.Requires {
			dependents[pre] = append(dependents[pre], id)
		}
	}

	var layers [][]string
	for len(remaining) > 0 {
		var layer []string
		for id, deg := range remaining {
			if deg == 0 {
				layer = append(layer, id)
			}
		}
		if len(layer) == 0 {
			// Unreachable: detectCycle runs first.
			break
		}
		sort.Strings(layer)

		for _, id := range layer {
			nodes[id].Layer = len(layers)
			delete(remaining, id)
			for _, dep := range dependents[id] {
				if _, ok := remaining[dep]; ok {
					remaining[dep]--
				}
			}
		}
		layers = append(layers, layer)
	}
	return layers
}

// markSkipped resolves disabled agents to skipped at plan time and cascades
// the skip through required edges, processing layers prerequisites-first.
// Dependents through optional edges are unaffected.
func markSkipped(nodes map[string]*Node, agents map[string]registry.Agent, layers [][]string) {
	for _, layer := range layers {
		for _, id := range layer {
			n := nodes[id]
			if agents[id].Status == registry.StatusDisabled {
				n.Skipped = true
				n.SkipReason = "agent is disabled"
				continue
			}
			for _, pre := range n.Requires {
				if nodes[pre].Skipped {
					n.Skipped = true
					n.SkipReason = "required dependency " + pre + " is skipped"
					break
				}
			}
		}
	}
}
