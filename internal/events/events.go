// Package events carries run and node lifecycle notifications from the
// scheduler to observers (the CLI progress printer, tests). Publishing is
// non-blocking; a slow subscriber loses events rather than stalling the
// coordinator.
package events

import (
	"sync"
	"time"
)

// Type identifies a lifecycle event.
type Type string

const (
	RunStarted    Type = "run.started"
	RunFinished   Type = "run.finished"
	RunProgress   Type = "run.progress"
	NodeStarted   Type = "node.started"
	NodeSucceeded Type = "node.succeeded"
	NodeFailed    Type = "node.failed"
	NodeTimedOut  Type = "node.timed_out"
	NodeSkipped   Type = "node.skipped"
	NodeRetrying  Type = "node.retrying"
)

// Progress summarizes a run's node counts.
type Progress struct {
	Total     int
	Pending   int
	Running   int
	Succeeded int
	Failed    int
	TimedOut  int
	Skipped   int
}

// Event is one lifecycle notification. AgentID, ExecutionID, Attempt and
// Err are populated for node events; Counts for progress events.
type Event struct {
	Type        Type
	RunID       string
	AgentID     string
	ExecutionID string
	Attempt     int
	Err         string
	Counts      *Progress
	Timestamp   time.Time
}

type subscription struct {
	ch    chan Event
	types map[Type]bool // empty = all types
}

func (s *subscription) wants(t Type) bool {
	return len(s.types) == 0 || s.types[t]
}

// Bus is a non-blocking pub-sub fan-out for lifecycle events.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscription
	closed bool
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a channel receiving events of the given types (all
// types when none are named). bufSize defaults to 256 when <= 0.
func (b *Bus) Subscribe(bufSize int, types ...Type) <-chan Event {
	if bufSize <= 0 {
		bufSize = 256
	}
	sub := &subscription{ch: make(chan Event, bufSize), types: make(map[Type]bool, len(types))}
	for _, t := range types {
		sub.types[t] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub.ch
	}
	b.subs = append(b.subs, sub)
	return sub.ch
}

// Publish fans the event out to matching subscribers. Full subscriber
// buffers drop the event.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if !sub.wants(ev.Type) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Close closes all subscriber channels. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.ch)
	}
}
