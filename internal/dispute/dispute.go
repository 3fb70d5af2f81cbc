// Package dispute arbitrates contested feedback entries.
//
// A dispute freezes an entry out of scoring without touching the cached
// score. Resolution stages every record change first and settles the
// stake last: a failed write aborts before any money moves, and a
// failed transfer rolls the staged changes back, so the entry stays
// disputed with its stake intact. Removal keeps the entry on the
// ledger with a zeroed rating so the audit trail survives. A resolved
// entry can be disputed again.
package dispute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/codes"

	"github.com/psinet/trustd/internal/credits"
	"github.com/psinet/trustd/internal/events"
	"github.com/psinet/trustd/internal/feedback"
	"github.com/psinet/trustd/internal/identity"
	"github.com/psinet/trustd/internal/metrics"
	"github.com/psinet/trustd/internal/rbac"
	"github.com/psinet/trustd/internal/syncutil"
	"github.com/psinet/trustd/internal/traces"
	"github.com/psinet/trustd/internal/vault"
)

var (
	ErrAlreadyDisputed = errors.New("feedback is already disputed")
	ErrNotDisputed     = errors.New("feedback is not disputed")
	ErrUnauthorized    = errors.New("caller may not act on this dispute")
)

// RoleChecker answers capability questions.
type RoleChecker interface {
	Has(ctx context.Context, principal string, role rbac.Role) (bool, error)
}

// StakeVault settles bonded stakes during resolution.
type StakeVault interface {
	Release(ctx context.Context, feedbackID int64, recipient string) (*vault.Escrow, error)
	BeginResolution() error
	EndResolution()
}

// Recomputer recalculates an agent's reputation from the ledger.
type Recomputer interface {
	Recompute(ctx context.Context, agentID string) (score int64, counted int, err error)
}

// Config wires a Service.
type Config struct {
	Store     feedback.Store
	Directory identity.Directory
	Roles     RoleChecker
	Vault     StakeVault
	Scorer    Recomputer
	Emitter   *events.Emitter
	Commit    *syncutil.CommitMutex
	Treasury  string
	Logger    *slog.Logger
}

// Service runs the dispute state machine.
type Service struct {
	store     feedback.Store
	directory identity.Directory
	roles     RoleChecker
	vault     StakeVault
	scorer    Recomputer
	emitter   *events.Emitter
	commit    *syncutil.CommitMutex
	treasury  string
	logger    *slog.Logger
}

// NewService creates the dispute service.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     cfg.Store,
		directory: cfg.Directory,
		roles:     cfg.Roles,
		vault:     cfg.Vault,
		scorer:    cfg.Scorer,
		emitter:   cfg.Emitter,
		commit:    cfg.Commit,
		treasury:  cfg.Treasury,
		logger:    logger,
	}
}

// Dispute flags an entry as contested. Allowed for the owner of the
// reviewed agent and for dispute resolvers. The cached score is left
// alone; scoring skips the entry on the next recompute.
func (s *Service) Dispute(ctx context.Context, caller string, feedbackID int64, reason string) (*feedback.Feedback, error) {
	ctx, span := traces.StartSpan(ctx, "dispute.Dispute",
		traces.FeedbackID(feedbackID), traces.Principal(caller))
	defer span.End()

	unlock, err := s.commit.LockContext(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	f, err := s.store.Get(ctx, feedbackID)
	if err != nil {
		return nil, err
	}
	if f.Disputed {
		return nil, ErrAlreadyDisputed
	}
	if err := s.authorizeDispute(ctx, caller, f.AgentID); err != nil {
		return nil, err
	}

	f.Disputed = true
	f.DisputeReason = reason
	if err := s.store.Update(ctx, f); err != nil {
		return nil, fmt.Errorf("failed to mark disputed: %w", err)
	}

	metrics.DisputesOpenedTotal.Inc()
	s.emitter.EmitFeedbackDisputed(f.ID, f.AgentID, caller, reason)
	return f, nil
}

func (s *Service) authorizeDispute(ctx context.Context, caller, agentID string) error {
	owner, err := s.directory.AgentOwner(ctx, agentID)
	if err != nil && !errors.Is(err, identity.ErrUnknownAgent) {
		return fmt.Errorf("failed to resolve agent owner: %w", err)
	}
	if err == nil && owner == caller {
		return nil
	}
	ok, err := s.roles.Has(ctx, caller, rbac.RoleDisputeResolver)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

// Resolve settles a disputed entry. Only dispute resolvers may call it.
//
// Every record change is staged before the stake moves: the dispute
// flag clears, removal zeroes the rating and decrements the type
// counter, and only then is any bonded stake released, refunded to the
// reviewer or slashed to the treasury when slashStake is set. A failed
// record write aborts with nothing committed; a failed transfer rolls
// the staged changes back. Removal recomputes the agent's score.
func (s *Service) Resolve(ctx context.Context, caller string, feedbackID int64, removeFeedback, slashStake bool) (*feedback.Feedback, error) {
	ctx, span := traces.StartSpan(ctx, "dispute.Resolve",
		traces.FeedbackID(feedbackID), traces.Principal(caller))
	defer span.End()

	ok, err := s.roles.Has(ctx, caller, rbac.RoleDisputeResolver)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnauthorized
	}

	if err := s.vault.BeginResolution(); err != nil {
		return nil, err
	}
	defer s.vault.EndResolution()

	unlock, err := s.commit.LockContext(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	f, err := s.store.Get(ctx, feedbackID)
	if err != nil {
		return nil, err
	}
	if !f.Disputed {
		return nil, ErrNotDisputed
	}

	// Stage all record changes before any money moves. prev holds the
	// pre-resolution entry for rollback if the transfer fails.
	prev := *f
	hasStake := credits.Positive(f.Stake)

	f.Disputed = false
	if removeFeedback {
		f.Rating = 0
		f.Removed = true
	}
	if hasStake {
		f.Stake = credits.Zero
	}
	if err := s.store.Update(ctx, f); err != nil {
		return nil, fmt.Errorf("failed to update feedback: %w", err)
	}
	if removeFeedback {
		if err := s.store.AdjustCount(ctx, f.AgentID, f.Type, -1); err != nil {
			s.rollback(ctx, &prev, false)
			return nil, fmt.Errorf("failed to update counts: %w", err)
		}
	}

	stakeSettled := false
	if hasStake {
		recipient := prev.Reviewer
		if slashStake {
			recipient = s.treasury
		}
		if _, err := s.vault.Release(ctx, feedbackID, recipient); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "stake release failed")
			s.rollback(ctx, &prev, removeFeedback)
			return nil, err
		}
		stakeSettled = true
	}

	outcome := "kept"
	if removeFeedback {
		outcome = "removed"
	}
	stakeLabel := "none"
	if stakeSettled {
		stakeLabel = "refunded"
		if slashStake {
			stakeLabel = "slashed"
		}
	}
	metrics.DisputesResolvedTotal.WithLabelValues(outcome, stakeLabel).Inc()
	s.emitter.EmitDisputeResolved(f.ID, f.AgentID, caller, removeFeedback)
	if removeFeedback {
		score, counted, err := s.scorer.Recompute(ctx, f.AgentID)
		if err != nil {
			s.logger.Error("score recompute failed", "agent", f.AgentID, "error", err)
		} else {
			s.emitter.EmitReputationUpdated(f.AgentID, score, counted)
		}
	}
	return f, nil
}

// rollback restores a staged resolution after a downstream failure.
// These writes mirror updates that succeeded moments earlier; if one
// still fails the drift is logged for reconciliation.
func (s *Service) rollback(ctx context.Context, prev *feedback.Feedback, recount bool) {
	if err := s.store.Update(ctx, prev); err != nil {
		s.logger.Error("CRITICAL: failed to restore entry after aborted resolution",
			"feedback_id", prev.ID, "error", err)
	}
	if recount {
		if err := s.store.AdjustCount(ctx, prev.AgentID, prev.Type, 1); err != nil {
			s.logger.Error("CRITICAL: failed to restore type counter after aborted resolution",
				"feedback_id", prev.ID, "error", err)
		}
	}
}
