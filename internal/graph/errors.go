package graph

import "fmt"

// UnknownAgentError is returned when a run request or a dependency edge
// references an agent id absent from the registry snapshot. Plan
// construction fails before any execution is dispatched.
type UnknownAgentError struct {
	AgentID string
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("unknown agent %q", e.AgentID)
}

// CyclicDependencyError is returned when the required-dependency subgraph
// contains a cycle. From/To name the offending back-edge.
type CyclicDependencyError struct {
	From string
	To   string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency: edge %s -> %s closes a cycle", e.From, e.To)
}
