package feedback

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/psinet/trustd/internal/credits"
	"github.com/psinet/trustd/internal/events"
	"github.com/psinet/trustd/internal/identity"
	"github.com/psinet/trustd/internal/ledger"
	"github.com/psinet/trustd/internal/rbac"
	"github.com/psinet/trustd/internal/syncutil"
	"github.com/psinet/trustd/internal/vault"
)

type stubScorer struct {
	score   int64
	counted int
	calls   int
}

func (s *stubScorer) Recompute(ctx context.Context, agentID string) (int64, int, error) {
	s.calls++
	return s.score, s.counted, nil
}

type testEnv struct {
	service   *Service
	store     *MemoryStore
	directory *identity.MemoryDirectory
	ledger    *ledger.Ledger
	vault     *vault.Vault
	scorer    *stubScorer
	eventLog  *events.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	directory := identity.NewMemoryDirectory()
	directory.Register("agent-1", "owner-1")

	led := ledger.New(ledger.NewMemoryStore())
	v := vault.New(vault.NewMemoryStore(), led)

	roles := rbac.NewService(rbac.NewMemoryStore())
	if err := roles.Bootstrap(context.Background(), "root"); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	store := NewMemoryStore()
	scorer := &stubScorer{score: 9000, counted: 1}
	eventLog := events.NewMemoryStore()

	service := NewService(Config{
		Store:        store,
		Directory:    directory,
		Vault:        v,
		Scorer:       scorer,
		Emitter:      events.NewEmitter(eventLog, nil, slog.Default()),
		Roles:        roles,
		Commit:       syncutil.NewCommitMutex(),
		MinimumStake: "1.000000",
	})

	return &testEnv{
		service:   service,
		store:     store,
		directory: directory,
		ledger:    led,
		vault:     v,
		scorer:    scorer,
		eventLog:  eventLog,
	}
}

func TestPostAssignsSequentialIDs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.service.Post(ctx, "reviewer-1", PostRequest{
		AgentID: "agent-1", Type: TypePositive, Rating: 90,
	})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	second, err := env.service.Post(ctx, "reviewer-2", PostRequest{
		AgentID: "agent-1", Type: TypeNegative, Rating: 20,
	})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}

	if first.ID != 1 || second.ID != 2 {
		t.Errorf("IDs = %d, %d, want 1, 2", first.ID, second.ID)
	}
	if first.Stake != credits.Zero {
		t.Errorf("stake = %s, want %s", first.Stake, credits.Zero)
	}
	if first.Disputed {
		t.Error("fresh entry must not be disputed")
	}
}

func TestPostRejectsInvalidRating(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.Post(context.Background(), "reviewer-1", PostRequest{
		AgentID: "agent-1", Type: TypePositive, Rating: 101,
	})
	if !errors.Is(err, ErrInvalidRating) {
		t.Errorf("error = %v, want ErrInvalidRating", err)
	}
}

func TestPostRejectsUnknownAgent(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.Post(context.Background(), "reviewer-1", PostRequest{
		AgentID: "nobody", Type: TypePositive, Rating: 50,
	})
	if !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("error = %v, want ErrAgentNotFound", err)
	}
}

func TestPostRejectsInactiveAgent(t *testing.T) {
	env := newTestEnv(t)
	env.directory.Deactivate("agent-1")
	_, err := env.service.Post(context.Background(), "reviewer-1", PostRequest{
		AgentID: "agent-1", Type: TypePositive, Rating: 50,
	})
	if !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("error = %v, want ErrAgentNotFound", err)
	}
}

func TestPostIncrementsCountAndRecomputes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.service.Post(ctx, "reviewer-1", PostRequest{
		AgentID: "agent-1", Type: TypePositive, Rating: 90,
	}); err != nil {
		t.Fatalf("Post: %v", err)
	}

	counts, err := env.service.Counts(ctx, "agent-1")
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.Positive != 1 || counts.Total() != 1 {
		t.Errorf("counts = %+v, want one positive", counts)
	}
	if env.scorer.calls != 1 {
		t.Errorf("recompute calls = %d, want 1", env.scorer.calls)
	}

	logged, err := env.eventLog.List(ctx, 10)
	if err != nil {
		t.Fatalf("List events: %v", err)
	}
	if len(logged) != 2 {
		t.Fatalf("expected posted + updated events, got %d", len(logged))
	}
	if logged[0].Type != events.TypeReputationUpdated || logged[1].Type != events.TypeFeedbackPosted {
		t.Errorf("event order = %s, %s", logged[0].Type, logged[1].Type)
	}
}

func TestPostStakedBondsCredits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.ledger.Deposit(ctx, "reviewer-1", "10.000000", "dep-1"); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	f, err := env.service.PostStaked(ctx, "reviewer-1", PostRequest{
		AgentID: "agent-1", Type: TypeNegative, Rating: 20,
	}, "2.000000")
	if err != nil {
		t.Fatalf("PostStaked: %v", err)
	}
	if f.Stake != "2.000000" {
		t.Errorf("stake = %s, want 2.000000", f.Stake)
	}

	bal, err := env.ledger.GetBalance(ctx, "reviewer-1")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if bal.Available != "8.000000" || bal.Escrowed != "2.000000" {
		t.Errorf("balance = %s available / %s escrowed", bal.Available, bal.Escrowed)
	}

	escrow, err := env.vault.Get(ctx, f.ID)
	if err != nil {
		t.Fatalf("vault.Get: %v", err)
	}
	if escrow.Reviewer != "reviewer-1" || escrow.Released {
		t.Errorf("escrow = %+v", escrow)
	}
}

func TestPostStakedBelowMinimum(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.ledger.Deposit(ctx, "reviewer-1", "10.000000", "dep-1"); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	_, err := env.service.PostStaked(ctx, "reviewer-1", PostRequest{
		AgentID: "agent-1", Type: TypePositive, Rating: 50,
	}, "0.500000")
	if !errors.Is(err, ErrInsufficientStake) {
		t.Errorf("error = %v, want ErrInsufficientStake", err)
	}
}

func TestPostStakedInvalidAmount(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.PostStaked(context.Background(), "reviewer-1", PostRequest{
		AgentID: "agent-1", Type: TypePositive, Rating: 50,
	}, "not-a-number")
	if !errors.Is(err, ErrInvalidStake) {
		t.Errorf("error = %v, want ErrInvalidStake", err)
	}
}

func TestPostStakedInsufficientBalanceDiscardsEntry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.PostStaked(ctx, "reviewer-broke", PostRequest{
		AgentID: "agent-1", Type: TypePositive, Rating: 50,
	}, "5.000000")
	if !errors.Is(err, ledger.ErrPrincipalNotFound) && !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("error = %v, want a ledger failure", err)
	}

	// The discarded entry must not be visible, and its ID is burned.
	if _, err := env.service.Get(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(1) error = %v, want ErrNotFound", err)
	}
	counts, _ := env.service.Counts(ctx, "agent-1")
	if counts.Total() != 0 {
		t.Errorf("counts total = %d, want 0", counts.Total())
	}

	if err := env.ledger.Deposit(ctx, "reviewer-1", "10.000000", "dep-1"); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	f, err := env.service.PostStaked(ctx, "reviewer-1", PostRequest{
		AgentID: "agent-1", Type: TypePositive, Rating: 50,
	}, "5.000000")
	if err != nil {
		t.Fatalf("PostStaked: %v", err)
	}
	if f.ID != 2 {
		t.Errorf("next ID = %d, want 2 (gap from burned ID)", f.ID)
	}
}

func TestSetMinimumStakeRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.service.SetMinimumStake(ctx, "reviewer-1", "3.000000")
	if !errors.Is(err, rbac.ErrUnauthorized) {
		t.Errorf("error = %v, want ErrUnauthorized", err)
	}

	if err := env.service.SetMinimumStake(ctx, "root", "3.000000"); err != nil {
		t.Fatalf("SetMinimumStake as root: %v", err)
	}
	if got := env.service.MinimumStake(); got != "3.000000" {
		t.Errorf("MinimumStake = %s, want 3.000000", got)
	}
}

func TestMinimumStakeChangeIsNotRetroactive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.ledger.Deposit(ctx, "reviewer-1", "10.000000", "dep-1"); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	f, err := env.service.PostStaked(ctx, "reviewer-1", PostRequest{
		AgentID: "agent-1", Type: TypePositive, Rating: 80,
	}, "1.000000")
	if err != nil {
		t.Fatalf("PostStaked: %v", err)
	}

	if err := env.service.SetMinimumStake(ctx, "root", "5.000000"); err != nil {
		t.Fatalf("SetMinimumStake: %v", err)
	}

	// The existing entry keeps its original stake and stays valid.
	got, err := env.service.Get(ctx, f.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Stake != "1.000000" {
		t.Errorf("stake = %s, want 1.000000", got.Stake)
	}

	// New entries are held to the new minimum.
	_, err = env.service.PostStaked(ctx, "reviewer-1", PostRequest{
		AgentID: "agent-1", Type: TypePositive, Rating: 80,
	}, "1.000000")
	if !errors.Is(err, ErrInsufficientStake) {
		t.Errorf("error = %v, want ErrInsufficientStake", err)
	}
}

func TestListByAgentNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := env.service.Post(ctx, "reviewer-1", PostRequest{
			AgentID: "agent-1", Type: TypePositive, Rating: 70 + i,
		}); err != nil {
			t.Fatalf("Post: %v", err)
		}
	}

	entries, err := env.service.ListByAgent(ctx, "agent-1", 2)
	if err != nil {
		t.Fatalf("ListByAgent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].ID != 3 || entries[1].ID != 2 {
		t.Errorf("IDs = %d, %d, want 3, 2", entries[0].ID, entries[1].ID)
	}
}

func TestListByReviewer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.directory.Register("agent-2", "owner-2")

	if _, err := env.service.Post(ctx, "reviewer-1", PostRequest{
		AgentID: "agent-1", Type: TypePositive, Rating: 90,
	}); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if _, err := env.service.Post(ctx, "reviewer-2", PostRequest{
		AgentID: "agent-2", Type: TypeNeutral, Rating: 0,
	}); err != nil {
		t.Fatalf("Post: %v", err)
	}

	entries, err := env.service.ListByReviewer(ctx, "reviewer-1", 10)
	if err != nil {
		t.Fatalf("ListByReviewer: %v", err)
	}
	if len(entries) != 1 || entries[0].Reviewer != "reviewer-1" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestParseType(t *testing.T) {
	cases := map[string]Type{
		"positive": TypePositive,
		"POSITIVE": TypePositive,
		"Negative": TypeNegative,
		"neutral":  TypeNeutral,
		"dispute":  TypeDispute,
	}
	for in, want := range cases {
		got, ok := ParseType(in)
		if !ok || got != want {
			t.Errorf("ParseType(%q) = %v, %v", in, got, ok)
		}
	}
	if _, ok := ParseType("mixed"); ok {
		t.Error("ParseType accepted an unknown type")
	}
}
