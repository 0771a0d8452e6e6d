// Package tracker records what happened: one execution record per dispatch
// attempt, immutable once terminal. It is the sole source of truth for
// execution history; the scheduler stages a terminal record before a node's
// result is allowed to unblock dependents.
package tracker

import (
	"context"
	"time"
)

// Status is the lifecycle state of an execution record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether the status is final. Records never leave a
// terminal status.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut, StatusSkipped:
		return true
	default:
		return false
	}
}

// Record is the log entry for one dispatch attempt. Retries of the same
// node produce separate records linked by RunID and AgentID, not mutations
// of the prior record.
type Record struct {
	ID         string
	RunID      string
	AgentID    string
	Attempt    int
	Status     Status
	Input      map[string]any
	Output     map[string]any
	Error      string
	StartedAt  time.Time
	EndedAt    time.Time
	DurationMS int64
}

// Filter selects records for Query. Zero fields match everything.
type Filter struct {
	RunID   string
	AgentID string
	Status  Status
}

// Tracker is the execution-history contract. Implementations must tolerate
// concurrent calls for distinct agent ids.
type Tracker interface {
	// RecordStart creates a running record for one dispatch attempt and
	// returns its execution id.
	RecordStart(ctx context.Context, runID, agentID string, attempt int, input map[string]any) (string, error)
	// RecordTerminal writes the single terminal state of a record. A second
	// terminal write for the same execution id is an error.
	RecordTerminal(ctx context.Context, executionID string, status Status, output map[string]any, errMsg string) error
	// RecordSkipped creates an already-terminal skipped record for a node
	// that was never dispatched, so run history always covers every planned
	// node.
	RecordSkipped(ctx context.Context, runID, agentID, reason string) (string, error)
	// Query returns records matching the filter ordered by start time.
	Query(ctx context.Context, f Filter) ([]Record, error)
	Close() error
}
