// Package rbac manages role grants for engine capabilities.
//
// Two roles exist. ADMIN may change engine configuration and manage
// grants. DISPUTE_RESOLVER may arbitrate disputed feedback. Agent
// owners need no role for the actions tied to ownership.
package rbac

import (
	"context"
	"errors"
	"time"
)

// Role is a named capability bundle.
type Role string

const (
	RoleAdmin           Role = "ADMIN"
	RoleDisputeResolver Role = "DISPUTE_RESOLVER"
)

var (
	ErrUnknownRole  = errors.New("unknown role")
	ErrUnauthorized = errors.New("caller lacks required role")
)

// Valid reports whether r is a recognized role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDisputeResolver:
		return true
	}
	return false
}

// Grant records that a principal holds a role.
type Grant struct {
	Principal string    `json:"principal"`
	Role      Role      `json:"role"`
	GrantedBy string    `json:"granted_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists role grants. Granting an already-held role and
// revoking an unheld one are both idempotent no-ops.
type Store interface {
	Grant(ctx context.Context, g *Grant) error
	Revoke(ctx context.Context, principal string, role Role) error
	Has(ctx context.Context, principal string, role Role) (bool, error)
	ListMembers(ctx context.Context, role Role) ([]*Grant, error)
	ListRoles(ctx context.Context, principal string) ([]*Grant, error)
}

// Service enforces that only admins may change grants.
type Service struct {
	store Store
}

// NewService creates a role service on top of a store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Grant gives principal the role. Caller must hold ADMIN.
func (s *Service) Grant(ctx context.Context, caller, principal string, role Role) (*Grant, error) {
	if !role.Valid() {
		return nil, ErrUnknownRole
	}
	ok, err := s.store.Has(ctx, caller, RoleAdmin)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnauthorized
	}
	g := &Grant{
		Principal: principal,
		Role:      role,
		GrantedBy: caller,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Grant(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// Revoke removes the role from principal. Caller must hold ADMIN.
func (s *Service) Revoke(ctx context.Context, caller, principal string, role Role) error {
	if !role.Valid() {
		return ErrUnknownRole
	}
	ok, err := s.store.Has(ctx, caller, RoleAdmin)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnauthorized
	}
	return s.store.Revoke(ctx, principal, role)
}

// Has reports whether principal holds role.
func (s *Service) Has(ctx context.Context, principal string, role Role) (bool, error) {
	return s.store.Has(ctx, principal, role)
}

// RequireAdmin returns ErrUnauthorized unless principal holds ADMIN.
func (s *Service) RequireAdmin(ctx context.Context, principal string) error {
	ok, err := s.store.Has(ctx, principal, RoleAdmin)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

// Members lists principals holding role.
func (s *Service) Members(ctx context.Context, role Role) ([]*Grant, error) {
	if !role.Valid() {
		return nil, ErrUnknownRole
	}
	return s.store.ListMembers(ctx, role)
}

// Roles lists the grants held by principal.
func (s *Service) Roles(ctx context.Context, principal string) ([]*Grant, error) {
	return s.store.ListRoles(ctx, principal)
}

// Bootstrap seeds the root principal with both roles so a fresh
// deployment has an admin able to issue further grants. Writes go
// straight to the store since no admin exists yet.
func (s *Service) Bootstrap(ctx context.Context, root string) error {
	if root == "" {
		return nil
	}
	for _, role := range []Role{RoleAdmin, RoleDisputeResolver} {
		g := &Grant{
			Principal: root,
			Role:      role,
			GrantedBy: "bootstrap",
			CreatedAt: time.Now().UTC(),
		}
		if err := s.store.Grant(ctx, g); err != nil {
			return err
		}
	}
	return nil
}
