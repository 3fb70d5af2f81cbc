// Package feedback implements the append-only feedback ledger.
//
// Entries are never deleted. A dispute resolved with removal zeroes the
// entry's rating and marks it removed so scoring skips it but the audit
// trail survives. Staked entries bond the reviewer's credits in the
// vault until a resolver releases them.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/psinet/trustd/internal/credits"
	"github.com/psinet/trustd/internal/events"
	"github.com/psinet/trustd/internal/identity"
	"github.com/psinet/trustd/internal/metrics"
	"github.com/psinet/trustd/internal/syncutil"
	"github.com/psinet/trustd/internal/traces"
	"github.com/psinet/trustd/internal/vault"
)

var (
	ErrNotFound          = errors.New("feedback not found")
	ErrInvalidType       = errors.New("invalid feedback type")
	ErrInvalidRating     = errors.New("rating must be between 0 and 100")
	ErrAgentNotFound     = errors.New("agent unknown or inactive")
	ErrInvalidStake      = errors.New("invalid stake amount")
	ErrInsufficientStake = errors.New("stake below configured minimum")
)

// Type classifies a feedback entry.
type Type string

const (
	TypePositive Type = "positive"
	TypeNegative Type = "negative"
	TypeNeutral  Type = "neutral"
	TypeDispute  Type = "dispute"
)

// ParseType normalizes a wire value into a Type.
func ParseType(s string) (Type, bool) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case TypePositive:
		return TypePositive, true
	case TypeNegative:
		return TypeNegative, true
	case TypeNeutral:
		return TypeNeutral, true
	case TypeDispute:
		return TypeDispute, true
	}
	return "", false
}

// Feedback is one entry in the ledger.
type Feedback struct {
	ID            int64     `json:"id"`
	AgentID       string    `json:"agentId"`
	Reviewer      string    `json:"reviewer"`
	Type          Type      `json:"type"`
	Rating        int       `json:"rating"`
	ContextHash   string    `json:"contextHash,omitempty"`
	Metadata      string    `json:"metadata,omitempty"`
	Stake         string    `json:"stake"`
	Disputed      bool      `json:"disputed"`
	DisputeReason string    `json:"disputeReason,omitempty"`
	Removed       bool      `json:"removed"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Counts holds per-type entry counts for one agent.
type Counts struct {
	Positive int64 `json:"positive"`
	Negative int64 `json:"negative"`
	Neutral  int64 `json:"neutral"`
	Dispute  int64 `json:"dispute"`
}

// Total sums all type counters.
func (c *Counts) Total() int64 {
	return c.Positive + c.Negative + c.Neutral + c.Dispute
}

// Store persists feedback entries and per-type counters.
//
// Append assigns the next sequential ID starting at 1. Update rewrites
// only the mutable status fields (rating, stake, disputed, removed).
// List methods return newest first; a limit <= 0 means no limit.
type Store interface {
	Append(ctx context.Context, f *Feedback) error
	Get(ctx context.Context, id int64) (*Feedback, error)
	ListByAgent(ctx context.Context, agentID string, limit int) ([]*Feedback, error)
	ListByReviewer(ctx context.Context, reviewer string, limit int) ([]*Feedback, error)
	Update(ctx context.Context, f *Feedback) error
	Discard(ctx context.Context, id int64) error
	Counts(ctx context.Context, agentID string) (*Counts, error)
	AdjustCount(ctx context.Context, agentID string, t Type, delta int64) error
}

// Recomputer recalculates an agent's reputation from the ledger.
type Recomputer interface {
	Recompute(ctx context.Context, agentID string) (score int64, counted int, err error)
}

// StakeVault bonds reviewer credits behind a feedback entry.
type StakeVault interface {
	CanHold(ctx context.Context, reviewer, amount string) (bool, error)
	Hold(ctx context.Context, feedbackID int64, reviewer, amount string) (*vault.Escrow, error)
}

// Authorizer gates admin-only configuration.
type Authorizer interface {
	RequireAdmin(ctx context.Context, principal string) error
}

// Config wires a Service.
type Config struct {
	Store        Store
	Directory    identity.Directory
	Vault        StakeVault
	Scorer       Recomputer
	Emitter      *events.Emitter
	Roles        Authorizer
	Commit       *syncutil.CommitMutex
	MinimumStake string
	Logger       *slog.Logger
}

// Service runs feedback operations. All ledger mutations flow through
// the shared commit mutex so appends and dispute resolutions serialize
// into one stable order.
type Service struct {
	store     Store
	directory identity.Directory
	vault     StakeVault
	scorer    Recomputer
	emitter   *events.Emitter
	roles     Authorizer
	commit    *syncutil.CommitMutex
	logger    *slog.Logger

	mu       sync.RWMutex
	minStake string
}

// NewService creates the feedback service.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	minStake := cfg.MinimumStake
	if minStake == "" {
		minStake = credits.Zero
	}
	return &Service{
		store:     cfg.Store,
		directory: cfg.Directory,
		vault:     cfg.Vault,
		scorer:    cfg.Scorer,
		emitter:   cfg.Emitter,
		roles:     cfg.Roles,
		commit:    cfg.Commit,
		logger:    logger,
		minStake:  minStake,
	}
}

// PostRequest carries the caller-supplied fields of a new entry.
type PostRequest struct {
	AgentID     string
	Type        Type
	Rating      int
	ContextHash string
	Metadata    string
}

func (s *Service) validate(ctx context.Context, req *PostRequest) error {
	if !req.Type.valid() {
		metrics.FeedbackRejectedTotal.WithLabelValues("invalid_type").Inc()
		return ErrInvalidType
	}
	if req.Rating < 0 || req.Rating > 100 {
		metrics.FeedbackRejectedTotal.WithLabelValues("invalid_rating").Inc()
		return ErrInvalidRating
	}
	active, err := s.directory.IsAgentActive(ctx, req.AgentID)
	if err != nil {
		return fmt.Errorf("failed to check agent: %w", err)
	}
	if !active {
		metrics.FeedbackRejectedTotal.WithLabelValues("agent_not_found").Inc()
		return ErrAgentNotFound
	}
	return nil
}

func (t Type) valid() bool {
	switch t {
	case TypePositive, TypeNegative, TypeNeutral, TypeDispute:
		return true
	}
	return false
}

// Post appends an unstaked entry and recomputes the agent's score.
func (s *Service) Post(ctx context.Context, reviewer string, req PostRequest) (*Feedback, error) {
	ctx, span := traces.StartSpan(ctx, "feedback.Post",
		traces.AgentID(req.AgentID), traces.Principal(reviewer))
	defer span.End()

	if err := s.validate(ctx, &req); err != nil {
		return nil, err
	}

	unlock, err := s.commit.LockContext(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	f := &Feedback{
		AgentID:     req.AgentID,
		Reviewer:    reviewer,
		Type:        req.Type,
		Rating:      req.Rating,
		ContextHash: req.ContextHash,
		Metadata:    req.Metadata,
		Stake:       credits.Zero,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.Append(ctx, f); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to append feedback")
		return nil, fmt.Errorf("failed to append feedback: %w", err)
	}
	if err := s.store.AdjustCount(ctx, f.AgentID, f.Type, 1); err != nil {
		return nil, fmt.Errorf("failed to update counts: %w", err)
	}
	s.finishPost(ctx, f)
	return f, nil
}

// PostStaked appends an entry with the reviewer's credits bonded behind
// it. The stake must meet the minimum configured at posting time; later
// changes to the minimum never touch existing entries.
func (s *Service) PostStaked(ctx context.Context, reviewer string, req PostRequest, stake string) (*Feedback, error) {
	ctx, span := traces.StartSpan(ctx, "feedback.PostStaked",
		traces.AgentID(req.AgentID), traces.Principal(reviewer), traces.Amount(stake))
	defer span.End()

	amount, ok := credits.Parse(stake)
	if !ok || amount.Sign() <= 0 {
		return nil, ErrInvalidStake
	}
	minimum, _ := credits.Parse(s.MinimumStake())
	if minimum != nil && amount.Cmp(minimum) < 0 {
		return nil, ErrInsufficientStake
	}
	if err := s.validate(ctx, &req); err != nil {
		return nil, err
	}

	unlock, err := s.commit.LockContext(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	f := &Feedback{
		AgentID:     req.AgentID,
		Reviewer:    reviewer,
		Type:        req.Type,
		Rating:      req.Rating,
		ContextHash: req.ContextHash,
		Metadata:    req.Metadata,
		Stake:       credits.Format(amount),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.Append(ctx, f); err != nil {
		return nil, fmt.Errorf("failed to append feedback: %w", err)
	}
	if _, err := s.vault.Hold(ctx, f.ID, reviewer, f.Stake); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to bond stake")
		// The entry never became visible; its ID is burned, not reused.
		if discardErr := s.store.Discard(ctx, f.ID); discardErr != nil {
			s.logger.Error("failed to discard entry after stake hold failure",
				"feedback_id", f.ID, "error", discardErr)
		}
		return nil, fmt.Errorf("failed to bond stake: %w", err)
	}
	if err := s.store.AdjustCount(ctx, f.AgentID, f.Type, 1); err != nil {
		return nil, fmt.Errorf("failed to update counts: %w", err)
	}
	s.finishPost(ctx, f)
	return f, nil
}

// finishPost recomputes the agent's score and emits lifecycle events.
// Called with the commit mutex held.
func (s *Service) finishPost(ctx context.Context, f *Feedback) {
	staked := "false"
	if credits.Positive(f.Stake) {
		staked = "true"
	}
	metrics.FeedbackPostedTotal.WithLabelValues(string(f.Type), staked).Inc()
	s.emitter.EmitFeedbackPosted(f.ID, f.AgentID, f.Reviewer, string(f.Type), f.Rating, f.ContextHash)
	score, counted, err := s.scorer.Recompute(ctx, f.AgentID)
	if err != nil {
		s.logger.Error("score recompute failed", "agent", f.AgentID, "error", err)
		return
	}
	s.emitter.EmitReputationUpdated(f.AgentID, score, counted)
}

// Get returns one entry by ID.
func (s *Service) Get(ctx context.Context, id int64) (*Feedback, error) {
	return s.store.Get(ctx, id)
}

// ListByAgent returns an agent's entries, newest first.
func (s *Service) ListByAgent(ctx context.Context, agentID string, limit int) ([]*Feedback, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByAgent(ctx, agentID, limit)
}

// ListByReviewer returns a reviewer's entries, newest first.
func (s *Service) ListByReviewer(ctx context.Context, reviewer string, limit int) ([]*Feedback, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByReviewer(ctx, reviewer, limit)
}

// Counts returns the agent's per-type entry counters.
func (s *Service) Counts(ctx context.Context, agentID string) (*Counts, error) {
	return s.store.Counts(ctx, agentID)
}

// MinimumStake returns the current minimum stake for staked entries.
func (s *Service) MinimumStake() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.minStake
}

// SetMinimumStake updates the minimum stake. Admin only. Existing
// entries keep the stake they were posted with.
func (s *Service) SetMinimumStake(ctx context.Context, caller, amount string) error {
	if err := s.roles.RequireAdmin(ctx, caller); err != nil {
		return err
	}
	parsed, ok := credits.Parse(amount)
	if !ok || parsed.Sign() < 0 {
		return ErrInvalidStake
	}
	s.mu.Lock()
	s.minStake = credits.Format(parsed)
	s.mu.Unlock()
	return nil
}
