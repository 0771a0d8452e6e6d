package tracker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryTracker is a process-local Tracker suited for tests and demos.
// Records are returned as copies so callers cannot mutate history.
type InMemoryTracker struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string // insertion order, stable tiebreak for Query
}

// NewInMemoryTracker creates an empty in-memory tracker.
func NewInMemoryTracker() *InMemoryTracker {
	return &InMemoryTracker{records: make(map[string]*Record)}
}

// RecordStart implements Tracker.
func (t *InMemoryTracker) RecordStart(_ context.Context, runID, agentID string, attempt int, input map[string]any) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := uuid.NewString()
	t.records[id] = &Record{
		ID:        id,
		RunID:     runID,
		AgentID:   agentID,
		Attempt:   attempt,
		Status:    StatusRunning,
		Input:     cloneMap(input),
		StartedAt: time.Now().UTC(),
	}
	t.order = append(t.order, id)
	return id, nil
}

// RecordTerminal implements Tracker.
func (t *InMemoryTracker) RecordTerminal(_ context.Context, executionID string, status Status, output map[string]any, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[executionID]
	if !ok {
		return fmt.Errorf("execution %q not found", executionID)
	}
	if rec.Status.Terminal() {
		return fmt.Errorf("execution %q is already terminal (%s)", executionID, rec.Status)
	}

	rec.Status = status
	rec.Output = cloneMap(output)
	rec.Error = errMsg
	rec.EndedAt = time.Now().UTC()
	rec.DurationMS = rec.EndedAt.Sub(rec.StartedAt).Milliseconds()
	return nil
}

// RecordSkipped implements Tracker.
func (t *InMemoryTracker) RecordSkipped(_ context.Context, runID, agentID, reason string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := uuid.NewString()
	now := time.Now().UTC()
	t.records[id] = &Record{
		ID:        id,
		RunID:     runID,
		AgentID:   agentID,
		Status:    StatusSkipped,
		Error:     reason,
		StartedAt: now,
		EndedAt:   now,
	}
	t.order = append(t.order, id)
	return id, nil
}

// Query implements Tracker.
func (t *InMemoryTracker) Query(_ context.Context, f Filter) ([]Record, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Record
	for _, id := range t.order {
		rec := t.records[id]
		if f.RunID != "" && rec.RunID != f.RunID {
			continue
		}
		if f.AgentID != "" && rec.AgentID != f.AgentID {
			continue
		}
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		cp := *rec
		cp.Input = cloneMap(rec.Input)
		cp.Output = cloneMap(rec.Output)
		out = append(out, cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// Close implements Tracker.
func (t *InMemoryTracker) Close() error { return nil }

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var _ Tracker = (*InMemoryTracker)(nil)
