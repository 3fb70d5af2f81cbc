package reputation

import (
	"context"
	"sync"
)

// MemoryScoreStore is an in-memory score cache for development and tests.
type MemoryScoreStore struct {
	mu     sync.RWMutex
	scores map[string]*Result
}

// NewMemoryScoreStore creates an empty in-memory score cache.
func NewMemoryScoreStore() *MemoryScoreStore {
	return &MemoryScoreStore{scores: make(map[string]*Result)}
}

func (s *MemoryScoreStore) Get(ctx context.Context, agentID string) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.scores[agentID]
	if !ok {
		return nil, nil
	}
	copied := *r
	return &copied, nil
}

func (s *MemoryScoreStore) Upsert(ctx context.Context, result *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *result
	s.scores[result.AgentID] = &copied
	return nil
}

func (s *MemoryScoreStore) ListAll(ctx context.Context) ([]*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Result, 0, len(s.scores))
	for _, r := range s.scores {
		copied := *r
		out = append(out, &copied)
	}
	return out, nil
}
