package feedback

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory feedback ledger for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	entries map[int64]*Feedback
	order   []int64
	counts  map[string]map[Type]int64
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:  1,
		entries: make(map[int64]*Feedback),
		counts:  make(map[string]map[Type]int64),
	}
}

// Append assigns the next ID and stores the entry.
func (s *MemoryStore) Append(ctx context.Context, f *Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.ID = s.nextID
	s.nextID++
	copied := *f
	s.entries[f.ID] = &copied
	s.order = append(s.order, f.ID)
	return nil
}

// Get returns one entry by ID.
func (s *MemoryStore) Get(ctx context.Context, id int64) (*Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *f
	return &copied, nil
}

// ListByAgent returns an agent's entries, newest first.
func (s *MemoryStore) ListByAgent(ctx context.Context, agentID string, limit int) ([]*Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(limit, func(f *Feedback) bool { return f.AgentID == agentID }), nil
}

// ListByReviewer returns a reviewer's entries, newest first.
func (s *MemoryStore) ListByReviewer(ctx context.Context, reviewer string, limit int) ([]*Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(limit, func(f *Feedback) bool { return f.Reviewer == reviewer }), nil
}

func (s *MemoryStore) collect(limit int, match func(*Feedback) bool) []*Feedback {
	var out []*Feedback
	for i := len(s.order) - 1; i >= 0; i-- {
		f, ok := s.entries[s.order[i]]
		if !ok || !match(f) {
			continue
		}
		copied := *f
		out = append(out, &copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Update rewrites the mutable status fields of an existing entry.
func (s *MemoryStore) Update(ctx context.Context, f *Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.entries[f.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Rating = f.Rating
	stored.Stake = f.Stake
	stored.Disputed = f.Disputed
	stored.DisputeReason = f.DisputeReason
	stored.Removed = f.Removed
	return nil
}

// Discard drops an entry whose stake hold failed. The ID is not reused.
func (s *MemoryStore) Discard(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return ErrNotFound
	}
	delete(s.entries, id)
	for i, stored := range s.order {
		if stored == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Counts returns the agent's per-type counters.
func (s *MemoryStore) Counts(ctx context.Context, agentID string) (*Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := &Counts{}
	for t, n := range s.counts[agentID] {
		switch t {
		case TypePositive:
			c.Positive = n
		case TypeNegative:
			c.Negative = n
		case TypeNeutral:
			c.Neutral = n
		case TypeDispute:
			c.Dispute = n
		}
	}
	return c, nil
}

// AdjustCount shifts one per-type counter by delta.
func (s *MemoryStore) AdjustCount(ctx context.Context, agentID string, t Type, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts[agentID] == nil {
		s.counts[agentID] = make(map[Type]int64)
	}
	s.counts[agentID][t] += delta
	if s.counts[agentID][t] < 0 {
		s.counts[agentID][t] = 0
	}
	return nil
}
