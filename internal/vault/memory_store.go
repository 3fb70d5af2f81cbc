package vault

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory escrow store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	escrows map[int64]*Escrow
}

// NewMemoryStore creates a new in-memory escrow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{escrows: make(map[int64]*Escrow)}
}

func (m *MemoryStore) Create(ctx context.Context, escrow *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *escrow
	m.escrows[escrow.FeedbackID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, feedbackID int64) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.escrows[feedbackID]
	if !ok {
		return nil, ErrNoEscrow
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, escrow *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.escrows[escrow.FeedbackID]; !ok {
		return ErrNoEscrow
	}
	cp := *escrow
	m.escrows[escrow.FeedbackID] = &cp
	return nil
}

func (m *MemoryStore) ListByReviewer(ctx context.Context, reviewer string, limit int) ([]*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Escrow
	for _, e := range m.escrows {
		if e.Reviewer == reviewer {
			cp := *e
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}
