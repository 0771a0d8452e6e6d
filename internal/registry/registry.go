// Package registry holds agent definitions and their declared dependency
// edges. It is the leaf component every other part of the orchestrator reads:
// the resolver takes a read-only snapshot of it, the scheduler consults it
// for per-agent timeout overrides, and the CLI populates it from config.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gammazero/toposort"
	"github.com/google/uuid"

	"github.com/agenthive/agenthive/internal/logging"
)

// Status is the lifecycle state of a registered agent. Agents referenced by
// execution history are never removed, only disabled.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// DependencyKind distinguishes blocking from non-blocking edges.
type DependencyKind string

const (
	// DependencyRequired blocks the dependent: a failed or skipped
	// prerequisite skips the dependent.
	DependencyRequired DependencyKind = "required"
	// DependencyOptional orders execution but never blocks the dependent
	// when the prerequisite fails.
	DependencyOptional DependencyKind = "optional"
)

// Edge declares that AgentID depends on DependsOnID.
type Edge struct {
	AgentID     string
	DependsOnID string
	Kind        DependencyKind
}

// Agent is a registered unit of executable work.
type Agent struct {
	ID          string
	Name        string
	Description string
	Type        string // e.g. "llm", "custom"
	Status      Status
	Config      map[string]Value
	// TimeoutSeconds overrides the run-level default when > 0.
	TimeoutSeconds int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Snapshot is the read-only registry view consumed by the resolver and
// scheduler. Implementations must return defensive copies.
type Snapshot interface {
	GetAgent(id string) (Agent, bool)
	ListDependencies(id string) []Edge
}

// UpdateParams carries the mutable agent fields for Update. Nil pointers
// leave the corresponding field untouched.
type UpdateParams struct {
	Name           *string
	Description    *string
	Config         map[string]Value
	TimeoutSeconds *int
}

// Registry is an in-memory agent store safe for concurrent use. The
// orchestrator's persistence boundary is the tracker and memory store;
// agent definitions are declarative and reloaded from config at startup.
type Registry struct {
	mu      sync.RWMutex
	agents  map[string]*Agent
	byName  map[string]string                    // name -> id
	edges   map[string]map[string]DependencyKind // agentID -> dependsOnID -> kind
	schemas map[string]ConfigSchema              // agent type -> schema
	logger  logging.Logger
}

// New creates an empty registry.
func New(logger logging.Logger) *Registry {
	return &Registry{
		agents:  make(map[string]*Agent),
		byName:  make(map[string]string),
		edges:   make(map[string]map[string]DependencyKind),
		schemas: make(map[string]ConfigSchema),
		logger:  logging.OrDefault(logger),
	}
}

// RegisterSchema declares the config schema for an agent type. Agents of
// that type registered afterwards are validated against it.
func (r *Registry) RegisterSchema(agentType string, schema ConfigSchema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[agentType] = schema
}

// Register adds a new agent. A missing ID is assigned a fresh uuid. Names
// are unique; config is validated against the type's schema if one was
// declared.
func (r *Registry) Register(agent Agent) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	if agent.Name == "" {
		return Agent{}, fmt.Errorf("agent name must not be empty")
	}
	if _, exists := r.agents[agent.ID]; exists {
		return Agent{}, fmt.Errorf("agent %q already registered", agent.ID)
	}
	if otherID, exists := r.byName[agent.Name]; exists {
		return Agent{}, fmt.Errorf("agent name %q already used by %s", agent.Name, otherID)
	}
	if schema, ok := r.schemas[agent.Type]; ok {
		if err := schema.Validate(agent.Config); err != nil {
			return Agent{}, fmt.Errorf("agent %q: %w", agent.Name, err)
		}
	}
	if agent.Status == "" {
		agent.Status = StatusActive
	}

	now := time.Now().UTC()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	agent.Config = cloneConfig(agent.Config)

	stored := agent
	r.agents[agent.ID] = &stored
	r.byName[agent.Name] = agent.ID
	r.logger.Info("agent registered", "agent_id", agent.ID, "name", agent.Name, "type", agent.Type)
	return agent, nil
}

// Update mutates an existing agent's name, description, config or timeout.
// Name conflicts with other agents are rejected; config is re-validated.
func (r *Registry) Update(id string, params UpdateParams) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return Agent{}, fmt.Errorf("agent %q not found", id)
	}

	if params.Name != nil && *params.Name != agent.Name {
		if otherID, exists := r.byName[*params.Name]; exists && otherID != id {
			return Agent{}, fmt.Errorf("agent name %q already used by %s", *params.Name, otherID)
		}
		delete(r.byName, agent.Name)
		agent.Name = *params.Name
		r.byName[agent.Name] = id
	}
	if params.Description != nil {
		agent.Description = *params.Description
	}
	if params.Config != nil {
		if schema, ok := r.schemas[agent.Type]; ok {
			if err := schema.Validate(params.Config); err != nil {
				return Agent{}, fmt.Errorf("agent %q: %w", agent.Name, err)
			}
		}
		agent.Config = cloneConfig(params.Config)
	}
	if params.TimeoutSeconds != nil {
		agent.TimeoutSeconds = *params.TimeoutSeconds
	}
	agent.UpdatedAt = time.Now().UTC()

	r.logger.Info("agent updated", "agent_id", id, "name", agent.Name)
	return *agent, nil
}

// SetStatus switches an agent between active and disabled. Disabling is the
// soft-delete path: history stays intact and plans resolve the agent (and
// its required dependents) to skipped.
func (r *Registry) SetStatus(id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("agent %q not found", id)
	}
	agent.Status = status
	agent.UpdatedAt = time.Now().UTC()
	r.logger.Info("agent status changed", "agent_id", id, "status", string(status))
	return nil
}

// GetAgent returns a copy of the agent with the given id.
func (r *Registry) GetAgent(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[id]
	if !ok {
		return Agent{}, false
	}
	cp := *agent
	cp.Config = cloneConfig(agent.Config)
	return cp, true
}

// GetByName returns a copy of the agent with the given name.
func (r *Registry) GetByName(name string) (Agent, bool) {
	r.mu.RLock()
	id, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return Agent{}, false
	}
	return r.GetAgent(id)
}

// List returns all agents sorted by name.
func (r *Registry) List() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Agent, 0, len(r.agents))
	for _, agent := range r.agents {
		cp := *agent
		cp.Config = cloneConfig(agent.Config)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListActive returns all active agents sorted by name.
func (r *Registry) ListActive() []Agent {
	all := r.List()
	out := all[:0]
	for _, agent := range all {
		if agent.Status == StatusActive {
			out = append(out, agent)
		}
	}
	return out
}

// ListByType returns all agents of the given type sorted by name.
func (r *Registry) ListByType(agentType string) []Agent {
	all := r.List()
	out := all[:0]
	for _, agent := range all {
		if agent.Type == agentType {
			out = append(out, agent)
		}
	}
	return out
}

// AddDependency declares that agentID depends on dependsOnID. Duplicate
// pairs are rejected (set semantics), as is any edge that would make the
// full edge set cyclic. Cycles are caught here, at creation time, so plan
// construction can assume an acyclic registry.
func (r *Registry) AddDependency(agentID, dependsOnID string, kind DependencyKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[agentID]; !ok {
		return fmt.Errorf("agent %q not found", agentID)
	}
	if _, ok := r.agents[dependsOnID]; !ok {
		return fmt.Errorf("agent %q not found", dependsOnID)
	}
	if agentID == dependsOnID {
		return fmt.Errorf("agent %q cannot depend on itself", agentID)
	}
	if _, exists := r.edges[agentID][dependsOnID]; exists {
		return fmt.Errorf("dependency %s -> %s already declared", agentID, dependsOnID)
	}
	if kind != DependencyRequired && kind != DependencyOptional {
		return fmt.Errorf("unknown dependency kind %q", kind)
	}

	if err := r.checkAcyclicLocked(agentID, dependsOnID); err != nil {
		return err
	}

	if r.edges[agentID] == nil {
		r.edges[agentID] = make(map[string]DependencyKind)
	}
	r.edges[agentID][dependsOnID] = kind
	r.logger.Info("dependency added", "agent_id", agentID, "depends_on", dependsOnID, "kind", string(kind))
	return nil
}

// checkAcyclicLocked runs a topological sort over the current edge set plus
// the candidate edge and rejects the edge if the sort fails.
func (r *Registry) checkAcyclicLocked(agentID, dependsOnID string) error {
	var edges []toposort.Edge
	for id := range r.agents {
		edges = append(edges, toposort.Edge{nil, id})
	}
	for dependent, deps := range r.edges {
		for dep := range deps {
			edges = append(edges, toposort.Edge{dep, dependent})
		}
	}
	edges = append(edges, toposort.Edge{dependsOnID, agentID})

	if _, err := toposort.Toposort(edges); err != nil {
		return fmt.Errorf("dependency %s -> %s would create a cycle: %w", agentID, dependsOnID, err)
	}
	return nil
}

// RemoveDependency deletes the edge agentID -> dependsOnID. Returns false
// if no such edge exists.
func (r *Registry) RemoveDependency(agentID, dependsOnID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.edges[agentID][dependsOnID]; !exists {
		return false
	}
	delete(r.edges[agentID], dependsOnID)
	r.logger.Info("dependency removed", "agent_id", agentID, "depends_on", dependsOnID)
	return true
}

// ListDependencies returns the outgoing edges of the given agent sorted by
// prerequisite id for determinism.
func (r *Registry) ListDependencies(id string) []Edge {
	r.mu.RLock()
	defer r.mu.RUnlock()

	deps := r.edges[id]
	out := make([]Edge, 0, len(deps))
	for dependsOn, kind := range deps {
		out = append(out, Edge{AgentID: id, DependsOnID: dependsOn, Kind: kind})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DependsOnID < out[j].DependsOnID })
	return out
}

var _ Snapshot = (*Registry)(nil)
