package logstore

import (
	"context"
	"sync"

	"taskhub/internal/task"
)

// InMemoryStore is a Store backed by a process-local slice, used by worker
// and Hub API tests that do not require a live MongoDB.
type InMemoryStore struct {
	mu      sync.Mutex
	entries []*task.LogEntry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(ctx context.Context, entry *task.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.entries = append(s.entries, &cp)
	return nil
}

func (s *InMemoryStore) Recent(ctx context.Context, agentID string, limit int) ([]*task.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*task.LogEntry
	for i := len(s.entries) - 1; i >= 0 && len(matched) < limit; i-- {
		if agentID == "" || s.entries[i].AgentID == agentID {
			matched = append(matched, s.entries[i])
		}
	}
	return matched, nil
}
