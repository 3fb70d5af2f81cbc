package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryEventStore implements EventStore with in-memory storage.
type MemoryEventStore struct {
	events []*Event
	nextID atomic.Int64
	mu     sync.RWMutex
}

// NewMemoryEventStore creates a new in-memory event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{}
}

func (s *MemoryEventStore) AppendEvent(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *event
	cp.ID = s.nextID.Add(1)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.events = append(s.events, &cp)
	return nil
}

func (s *MemoryEventStore) GetEvents(_ context.Context, principal string, since time.Time) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Event
	for _, e := range s.events {
		if e.Principal == principal && !e.CreatedAt.Before(since) {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *MemoryEventStore) GetAllPrincipals(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var principals []string
	for _, e := range s.events {
		if !seen[e.Principal] {
			seen[e.Principal] = true
			principals = append(principals, e.Principal)
		}
	}
	return principals, nil
}
