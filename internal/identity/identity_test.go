package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMemoryDirectory(t *testing.T) {
	d := NewMemoryDirectory()
	ctx := context.Background()

	active, err := d.IsAgentActive(ctx, "agent-alpha")
	if err != nil {
		t.Fatalf("IsAgentActive: %v", err)
	}
	if active {
		t.Error("unregistered agent should not be active")
	}

	d.Register("agent-alpha", "owner-1")

	active, err = d.IsAgentActive(ctx, "agent-alpha")
	if err != nil {
		t.Fatalf("IsAgentActive: %v", err)
	}
	if !active {
		t.Error("registered agent should be active")
	}

	owner, err := d.AgentOwner(ctx, "agent-alpha")
	if err != nil {
		t.Fatalf("AgentOwner: %v", err)
	}
	if owner != "owner-1" {
		t.Errorf("owner = %q, want owner-1", owner)
	}

	d.Deactivate("agent-alpha")
	active, _ = d.IsAgentActive(ctx, "agent-alpha")
	if active {
		t.Error("deactivated agent should not be active")
	}

	// Ownership survives deactivation.
	owner, err = d.AgentOwner(ctx, "agent-alpha")
	if err != nil {
		t.Fatalf("AgentOwner after deactivate: %v", err)
	}
	if owner != "owner-1" {
		t.Errorf("owner after deactivate = %q, want owner-1", owner)
	}

	d.Reactivate("agent-alpha")
	active, _ = d.IsAgentActive(ctx, "agent-alpha")
	if !active {
		t.Error("reactivated agent should be active")
	}
}

func TestMemoryDirectoryUnknownOwner(t *testing.T) {
	d := NewMemoryDirectory()
	_, err := d.AgentOwner(context.Background(), "nobody")
	if err != ErrUnknownAgent {
		t.Errorf("err = %v, want ErrUnknownAgent", err)
	}
}

func TestMemoryDirectoryCaseInsensitive(t *testing.T) {
	d := NewMemoryDirectory()
	d.Register("Agent-Alpha", "owner-1")

	active, _ := d.IsAgentActive(context.Background(), "agent-alpha")
	if !active {
		t.Error("lookup should be case-insensitive")
	}
}

func TestHTTPDirectory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/agents/agent-alpha":
			json.NewEncoder(w).Encode(Agent{ID: "agent-alpha", Owner: "owner-1", Active: true})
		case "/v1/agents/agent-dormant":
			json.NewEncoder(w).Encode(Agent{ID: "agent-dormant", Owner: "owner-2", Active: false})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	d := NewHTTPDirectory(srv.URL)
	ctx := context.Background()

	active, err := d.IsAgentActive(ctx, "agent-alpha")
	if err != nil {
		t.Fatalf("IsAgentActive: %v", err)
	}
	if !active {
		t.Error("agent-alpha should be active")
	}

	active, err = d.IsAgentActive(ctx, "agent-dormant")
	if err != nil {
		t.Fatalf("IsAgentActive: %v", err)
	}
	if active {
		t.Error("agent-dormant should not be active")
	}

	// Unknown agents read as inactive, not as an error.
	active, err = d.IsAgentActive(ctx, "agent-missing")
	if err != nil {
		t.Fatalf("IsAgentActive unknown: %v", err)
	}
	if active {
		t.Error("unknown agent should not be active")
	}

	owner, err := d.AgentOwner(ctx, "agent-alpha")
	if err != nil {
		t.Fatalf("AgentOwner: %v", err)
	}
	if owner != "owner-1" {
		t.Errorf("owner = %q, want owner-1", owner)
	}

	if _, err := d.AgentOwner(ctx, "agent-missing"); err != ErrUnknownAgent {
		t.Errorf("err = %v, want ErrUnknownAgent", err)
	}
}

func TestHTTPDirectoryBreakerTripsOnServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewHTTPDirectory(srv.URL)
	ctx := context.Background()

	// Five consecutive 500s trip the breaker open.
	for i := 0; i < 5; i++ {
		if _, err := d.AgentOwner(ctx, "agent-alpha"); err == nil {
			t.Fatal("expected error from failing directory")
		}
	}

	if _, err := d.AgentOwner(ctx, "agent-alpha"); err != ErrDirectoryUnavailable {
		t.Errorf("err = %v, want ErrDirectoryUnavailable", err)
	}
}
