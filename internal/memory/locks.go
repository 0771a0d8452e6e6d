package memory

import "sync"

// AgentLocks provides per-agent mutual exclusion. Within one run the
// scheduler never executes the same agent concurrently, but separate runs
// may; holding the agent's lock around hydrate-execute-write keeps memory
// writes for one agent serialized relative to each other.
type AgentLocks struct {
	mu    sync.Mutex // guards the locks map itself
	locks map[string]*sync.Mutex
}

// NewAgentLocks creates an empty lock manager.
func NewAgentLocks() *AgentLocks {
	return &AgentLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for the given agent id, creating it on first use.
func (a *AgentLocks) Lock(agentID string) {
	a.mu.Lock()
	l, ok := a.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		a.locks[agentID] = l
	}
	a.mu.Unlock()

	// Acquire outside the manager lock so distinct agents don't contend.
	l.Lock()
}

// Unlock releases the mutex for the given agent id.
func (a *AgentLocks) Unlock(agentID string) {
	a.mu.Lock()
	l, ok := a.locks[agentID]
	a.mu.Unlock()

	if ok {
		l.Unlock()
	}
}
