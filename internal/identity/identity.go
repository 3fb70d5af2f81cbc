// Package identity binds the engine to the external agent directory.
//
// The directory owns agent existence, liveness, and ownership. The engine
// never stores agent records itself; it only asks two questions before
// accepting or arbitrating feedback: is this agent active, and who owns it.
package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	ErrUnknownAgent         = errors.New("agent not found in identity directory")
	ErrDirectoryUnavailable = errors.New("identity directory unavailable")
)

// Directory is the consumed identity collaborator.
type Directory interface {
	// IsAgentActive reports whether the agent exists and is currently active.
	IsAgentActive(ctx context.Context, agentID string) (bool, error)
	// AgentOwner returns the principal that owns the agent.
	AgentOwner(ctx context.Context, agentID string) (string, error)
}

// Agent is a directory record.
type Agent struct {
	ID     string `json:"id"`
	Owner  string `json:"owner"`
	Active bool   `json:"active"`
}

// MemoryDirectory is an in-memory directory for development and tests.
// Production deployments point the engine at a real identity service
// via HTTPDirectory instead.
type MemoryDirectory struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{agents: make(map[string]*Agent)}
}

// Register adds or replaces an agent record.
func (d *MemoryDirectory) Register(agentID, owner string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := strings.ToLower(agentID)
	d.agents[id] = &Agent{ID: id, Owner: owner, Active: true}
}

// Deactivate marks an agent inactive. Unknown agents are a no-op.
func (d *MemoryDirectory) Deactivate(agentID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a, ok := d.agents[strings.ToLower(agentID)]; ok {
		a.Active = false
	}
}

// Reactivate marks an agent active again. Unknown agents are a no-op.
func (d *MemoryDirectory) Reactivate(agentID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a, ok := d.agents[strings.ToLower(agentID)]; ok {
		a.Active = true
	}
}

func (d *MemoryDirectory) IsAgentActive(ctx context.Context, agentID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[strings.ToLower(agentID)]
	if !ok {
		return false, nil
	}
	return a.Active, nil
}

func (d *MemoryDirectory) AgentOwner(ctx context.Context, agentID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[strings.ToLower(agentID)]
	if !ok {
		return "", ErrUnknownAgent
	}
	return a.Owner, nil
}

// List returns all registered agents. Development surface only.
func (d *MemoryDirectory) List() []*Agent {
	d.mu.RLock()
	defer d.mu.RUnlock()
	result := make([]*Agent, 0, len(d.agents))
	for _, a := range d.agents {
		cp := *a
		result = append(result, &cp)
	}
	return result
}
