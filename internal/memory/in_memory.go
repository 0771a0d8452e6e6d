package memory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is a volatile Store keeping entries in a process-local map.
// Safe for concurrent use; suited for tests and ephemeral runs.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]map[string]Entry // agentID -> key -> entry
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]map[string]Entry)}
}

// Get implements Store.
func (s *InMemoryStore) Get(_ context.Context, agentID, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[agentID][key]
	if !ok {
		return Entry{}, false, nil
	}
	if entry.Expired(time.Now()) {
		delete(s.entries[agentID], key)
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Set implements Store.
func (s *InMemoryStore) Set(_ context.Context, agentID, key string, value any, opts ...SetOption) error {
	entry := Entry{
		AgentID:   agentID,
		Key:       key,
		Value:     value,
		Kind:      KindEpisodic,
		UpdatedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&entry)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries[agentID] == nil {
		s.entries[agentID] = make(map[string]Entry)
	}
	s.entries[agentID][key] = entry
	return nil
}

// List implements Store.
func (s *InMemoryStore) List(_ context.Context, agentID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var out []Entry
	for key, entry := range s.entries[agentID] {
		if entry.Expired(now) {
			delete(s.entries[agentID], key)
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete implements Store.
func (s *InMemoryStore) Delete(_ context.Context, agentID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries[agentID], key)
	return nil
}

// Close implements Store.
func (s *InMemoryStore) Close() error { return nil }

var _ Store = (*InMemoryStore)(nil)
