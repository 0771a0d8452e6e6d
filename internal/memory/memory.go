// Package memory provides per-agent durable key-value state that outlives a
// single run. The scheduler hydrates an agent's memory before dispatch and
// applies declared writes only after a successful terminal result, so a
// retry always observes the pre-attempt state. There is no cross-agent
// visibility.
package memory

import (
	"context"
	"time"
)

// Kind categorizes a memory entry.
type Kind string

const (
	KindEpisodic   Kind = "episodic"
	KindSemantic   Kind = "semantic"
	KindProcedural Kind = "procedural"
)

// Entry is one per-agent memory record. A zero ExpiresAt means the entry
// never expires; expired entries read as absent and are lazily purged.
type Entry struct {
	AgentID   string
	Key       string
	Value     any
	Kind      Kind
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the entry has an expiry in the past.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && e.ExpiresAt.Before(now)
}

// SetOption customizes a write.
type SetOption func(*Entry)

// WithKind sets the entry kind (default episodic).
func WithKind(k Kind) SetOption {
	return func(e *Entry) { e.Kind = k }
}

// WithExpiry sets an absolute expiry time for the entry.
func WithExpiry(t time.Time) SetOption {
	return func(e *Entry) { e.ExpiresAt = t }
}

// Store is the per-agent memory contract. Writes are last-write-wins;
// implementations must tolerate concurrent calls for distinct agent ids.
type Store interface {
	Get(ctx context.Context, agentID, key string) (Entry, bool, error)
	Set(ctx context.Context, agentID, key string, value any, opts ...SetOption) error
	// List returns all live entries for the agent sorted by key. Used to
	// hydrate an agent's state before dispatch.
	List(ctx context.Context, agentID string) ([]Entry, error)
	Delete(ctx context.Context, agentID, key string) error
	Close() error
}
