package rbac

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	grants map[string]map[Role]*Grant
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{grants: make(map[string]map[Role]*Grant)}
}

func (m *MemoryStore) Grant(ctx context.Context, g *Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byRole, ok := m.grants[g.Principal]
	if !ok {
		byRole = make(map[Role]*Grant)
		m.grants[g.Principal] = byRole
	}
	if _, exists := byRole[g.Role]; exists {
		return nil
	}
	cp := *g
	byRole[g.Role] = &cp
	return nil
}

func (m *MemoryStore) Revoke(ctx context.Context, principal string, role Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if byRole, ok := m.grants[principal]; ok {
		delete(byRole, role)
	}
	return nil
}

func (m *MemoryStore) Has(ctx context.Context, principal string, role Role) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byRole, ok := m.grants[principal]
	if !ok {
		return false, nil
	}
	_, held := byRole[role]
	return held, nil
}

func (m *MemoryStore) ListMembers(ctx context.Context, role Role) ([]*Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Grant
	for _, byRole := range m.grants {
		if g, ok := byRole[role]; ok {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListRoles(ctx context.Context, principal string) ([]*Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Grant
	for _, g := range m.grants[principal] {
		cp := *g
		out = append(out, &cp)
	}
	return out, nil
}
