package events

import (
	"context"
	"sync"

	"github.com/psinet/trustd/internal/pagination"
)

// MemoryStore is an in-memory event log for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	events []*Event
}

// NewMemoryStore creates an empty in-memory event log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append adds an event to the log.
func (s *MemoryStore) Append(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *event
	s.events = append(s.events, &copied)
	return nil
}

// List returns the most recent events, newest first.
func (s *MemoryStore) List(ctx context.Context, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(limit, func(*Event) bool { return true }), nil
}

// ListBefore returns events strictly older than the cursor, newest first.
func (s *MemoryStore) ListBefore(ctx context.Context, before *pagination.Cursor, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(limit, func(e *Event) bool {
		if before == nil {
			return true
		}
		if e.Timestamp.Before(before.CreatedAt) {
			return true
		}
		return e.Timestamp.Equal(before.CreatedAt) && e.ID < before.ID
	}), nil
}

// ListByAgent returns the most recent events for one agent, newest first.
func (s *MemoryStore) ListByAgent(ctx context.Context, agentID string, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(limit, func(e *Event) bool { return e.AgentID == agentID }), nil
}

func (s *MemoryStore) collect(limit int, match func(*Event) bool) []*Event {
	out := make([]*Event, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if match(s.events[i]) {
			copied := *s.events[i]
			out = append(out, &copied)
		}
	}
	return out
}
