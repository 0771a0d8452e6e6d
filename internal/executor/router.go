package executor

import (
	"context"
	"fmt"

	"github.com/agenthive/agenthive/internal/registry"
)

// Router dispatches agents to provider-specific executors. The agent's
// config key "provider" selects the route; the agent type is the fallback
// key, then the default executor.
type Router struct {
	routes map[string]Executor
	def    Executor
}

// NewRouter creates a router. def may be nil when every agent names a
// registered provider.
func NewRouter(def Executor) *Router {
	return &Router{routes: make(map[string]Executor), def: def}
}

// Route registers an executor under a provider name.
func (r *Router) Route(name string, exec Executor) *Router {
	r.routes[name] = exec
	return r
}

func (r *Router) pick(agent registry.Agent) (Executor, error) {
	if name := ConfigString(agent, "provider", ""); name != "" {
		if exec, ok := r.routes[name]; ok {
			return exec, nil
		}
		return nil, &ExecutionError{AgentID: agent.ID,
			Err: fmt.Errorf("unknown provider %q", name)}
	}
	if exec, ok := r.routes[agent.Type]; ok {
		return exec, nil
	}
	if r.def != nil {
		return r.def, nil
	}
	return nil, &ExecutionError{AgentID: agent.ID,
		Err: fmt.Errorf("no executor for agent type %q", agent.Type)}
}

// ValidateInput implements Executor.
func (r *Router) ValidateInput(agent registry.Agent, in Input) error {
	exec, err := r.pick(agent)
	if err != nil {
		return err
	}
	return exec.ValidateInput(agent, in)
}

// RunAgent implements Executor.
func (r *Router) RunAgent(ctx context.Context, agent registry.Agent, in Input) (Output, error) {
	exec, err := r.pick(agent)
	if err != nil {
		return Output{}, err
	}
	return exec.RunAgent(ctx, agent, in)
}

var _ Executor = (*Router)(nil)
