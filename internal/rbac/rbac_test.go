package rbac

import (
	"context"
	"testing"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc := NewService(NewMemoryStore())
	if err := svc.Bootstrap(context.Background(), "root"); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	return svc
}

func TestBootstrapGrantsBothRoles(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, role := range []Role{RoleAdmin, RoleDisputeResolver} {
		held, err := svc.Has(ctx, "root", role)
		if err != nil {
			t.Fatalf("Has(%s): %v", role, err)
		}
		if !held {
			t.Errorf("root should hold %s after bootstrap", role)
		}
	}
}

func TestGrantRequiresAdmin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Grant(ctx, "nobody", "alice", RoleDisputeResolver); err != ErrUnauthorized {
		t.Errorf("Grant by non-admin: err = %v, want ErrUnauthorized", err)
	}

	grant, err := svc.Grant(ctx, "root", "alice", RoleDisputeResolver)
	if err != nil {
		t.Fatalf("Grant by admin: %v", err)
	}
	if grant.GrantedBy != "root" {
		t.Errorf("GrantedBy = %q, want root", grant.GrantedBy)
	}

	held, _ := svc.Has(ctx, "alice", RoleDisputeResolver)
	if !held {
		t.Error("alice should hold DISPUTE_RESOLVER after grant")
	}
}

func TestGrantUnknownRole(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.Grant(context.Background(), "root", "alice", Role("SUPERUSER")); err != ErrUnknownRole {
		t.Errorf("err = %v, want ErrUnknownRole", err)
	}
}

func TestGrantIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Grant(ctx, "root", "alice", RoleAdmin); err != nil {
		t.Fatalf("first grant: %v", err)
	}
	if _, err := svc.Grant(ctx, "root", "alice", RoleAdmin); err != nil {
		t.Fatalf("repeat grant: %v", err)
	}

	grants, err := svc.Roles(ctx, "alice")
	if err != nil {
		t.Fatalf("Roles: %v", err)
	}
	if len(grants) != 1 {
		t.Errorf("grants = %d, want 1", len(grants))
	}
}

func TestRevokeRequiresAdmin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	svc.Grant(ctx, "root", "alice", RoleDisputeResolver)

	if err := svc.Revoke(ctx, "alice", "root", RoleAdmin); err != ErrUnauthorized {
		t.Errorf("Revoke by non-admin: err = %v, want ErrUnauthorized", err)
	}

	if err := svc.Revoke(ctx, "root", "alice", RoleDisputeResolver); err != nil {
		t.Fatalf("Revoke by admin: %v", err)
	}

	held, _ := svc.Has(ctx, "alice", RoleDisputeResolver)
	if held {
		t.Error("alice should not hold DISPUTE_RESOLVER after revoke")
	}
}

func TestRevokeUnheldRoleIsNoop(t *testing.T) {
	svc := newTestService(t)

	if err := svc.Revoke(context.Background(), "root", "alice", RoleAdmin); err != nil {
		t.Errorf("revoking unheld role should be a no-op, got %v", err)
	}
}

func TestGrantedAdminCanGrant(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Grant(ctx, "root", "alice", RoleAdmin); err != nil {
		t.Fatalf("grant admin to alice: %v", err)
	}
	if _, err := svc.Grant(ctx, "alice", "bob", RoleDisputeResolver); err != nil {
		t.Fatalf("grant by alice: %v", err)
	}

	held, _ := svc.Has(ctx, "bob", RoleDisputeResolver)
	if !held {
		t.Error("bob should hold DISPUTE_RESOLVER")
	}
}

func TestMembers(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	svc.Grant(ctx, "root", "alice", RoleDisputeResolver)
	svc.Grant(ctx, "root", "bob", RoleDisputeResolver)

	members, err := svc.Members(ctx, RoleDisputeResolver)
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	// root holds it from bootstrap too
	if len(members) != 3 {
		t.Errorf("members = %d, want 3", len(members))
	}

	if _, err := svc.Members(ctx, Role("SUPERUSER")); err != ErrUnknownRole {
		t.Errorf("err = %v, want ErrUnknownRole", err)
	}
}

func TestRequireAdmin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if err := svc.RequireAdmin(ctx, "root"); err != nil {
		t.Errorf("RequireAdmin(root): %v", err)
	}
	if err := svc.RequireAdmin(ctx, "nobody"); err != ErrUnauthorized {
		t.Errorf("RequireAdmin(nobody): err = %v, want ErrUnauthorized", err)
	}
}
