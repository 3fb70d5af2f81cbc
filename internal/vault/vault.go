// Package vault holds stakes bonded to feedback entries.
//
// Flow:
//  1. Reviewer posts staked feedback → funds moved: available → escrowed
//  2. Dispute resolved in reviewer's favor → escrow refunded to reviewer
//  3. Dispute resolved against reviewer → escrow slashed to the treasury
//
// One escrow exists per staked feedback entry and is released exactly
// once. Resolution runs under a global guard so a release can never
// re-enter a resolution already in flight.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/psinet/trustd/internal/metrics"
	"github.com/psinet/trustd/internal/traces"
)

var (
	ErrNoEscrow            = errors.New("no escrow held for this feedback")
	ErrAlreadyReleased     = errors.New("escrow already released")
	ErrTransferFailed      = errors.New("stake transfer failed")
	ErrReentrantResolution = errors.New("resolution already in progress")
)

// Escrow represents a stake bonded to a feedback entry.
type Escrow struct {
	FeedbackID int64      `json:"feedbackId"`
	Reviewer   string     `json:"reviewer"`
	Amount     string     `json:"amount"`
	Released   bool       `json:"released"`
	Recipient  string     `json:"recipient,omitempty"` // set on release
	CreatedAt  time.Time  `json:"createdAt"`
	ReleasedAt *time.Time `json:"releasedAt,omitempty"`
}

// Store persists stake escrows.
type Store interface {
	Create(ctx context.Context, escrow *Escrow) error
	Get(ctx context.Context, feedbackID int64) (*Escrow, error)
	Update(ctx context.Context, escrow *Escrow) error
	ListByReviewer(ctx context.Context, reviewer string, limit int) ([]*Escrow, error)
}

// LedgerService abstracts ledger operations so vault doesn't import ledger.
type LedgerService interface {
	CanSpend(ctx context.Context, principal, amount string) (bool, error)
	EscrowLock(ctx context.Context, principal, amount, reference string) error
	ReleaseEscrow(ctx context.Context, from, to, amount, reference string) error
}

// Vault implements stake custody.
type Vault struct {
	store     Store
	ledger    LedgerService
	resolving atomic.Bool
}

// New creates a new vault.
func New(store Store, ledger LedgerService) *Vault {
	return &Vault{store: store, ledger: ledger}
}

func stakeRef(feedbackID int64) string {
	return "stake:" + strconv.FormatInt(feedbackID, 10)
}

// CanHold reports whether the reviewer has enough available balance
// to bond the stake.
func (v *Vault) CanHold(ctx context.Context, reviewer, amount string) (bool, error) {
	return v.ledger.CanSpend(ctx, reviewer, amount)
}

// Hold locks the reviewer's funds behind the feedback entry.
func (v *Vault) Hold(ctx context.Context, feedbackID int64, reviewer, amount string) (*Escrow, error) {
	escrow := &Escrow{
		FeedbackID: feedbackID,
		Reviewer:   reviewer,
		Amount:     amount,
		CreatedAt:  time.Now(),
	}

	if err := v.ledger.EscrowLock(ctx, reviewer, amount, stakeRef(feedbackID)); err != nil {
		return nil, fmt.Errorf("failed to lock stake funds: %w", err)
	}

	if err := v.store.Create(ctx, escrow); err != nil {
		// Best-effort refund if store fails
		_ = v.ledger.ReleaseEscrow(ctx, reviewer, reviewer, amount, stakeRef(feedbackID))
		return nil, fmt.Errorf("failed to create escrow record: %w", err)
	}

	metrics.StakesHeldTotal.Inc()
	return escrow, nil
}

// Release moves the escrowed stake to recipient. Passing the reviewer
// as recipient refunds the stake; any other recipient is a slash.
// The transfer happens before the record update: if it fails, the
// escrow stays held and the caller must abort its own changes.
func (v *Vault) Release(ctx context.Context, feedbackID int64, recipient string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "vault.Release",
		traces.FeedbackID(feedbackID),
		traces.Principal(recipient),
	)
	defer span.End()

	escrow, err := v.store.Get(ctx, feedbackID)
	if err != nil {
		return nil, err
	}

	if escrow.Released {
		return nil, ErrAlreadyReleased
	}

	span.SetAttributes(traces.Amount(escrow.Amount), traces.EscrowID(stakeRef(feedbackID)))

	if err := v.ledger.ReleaseEscrow(ctx, escrow.Reviewer, recipient, escrow.Amount, stakeRef(feedbackID)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stake transfer failed")
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	now := time.Now()
	escrow.Released = true
	escrow.Recipient = recipient
	escrow.ReleasedAt = &now

	if err := v.store.Update(ctx, escrow); err != nil {
		// Retry once: funds already moved, we must persist the state change
		if retryErr := v.store.Update(ctx, escrow); retryErr != nil {
			// CRITICAL: stake was transferred but the escrow record is stale.
			// Cannot safely reverse ReleaseEscrow.
			log.Printf("CRITICAL: stake for feedback %d released to %s but record update failed: %v",
				feedbackID, recipient, retryErr)
			return nil, fmt.Errorf("failed to update escrow after release (requires manual resolution): %w", err)
		}
	}

	disposition := "refund"
	if recipient != escrow.Reviewer {
		disposition = "slash"
	}
	metrics.StakesReleasedTotal.WithLabelValues(disposition).Inc()
	return escrow, nil
}

// Get returns the escrow held for a feedback entry.
func (v *Vault) Get(ctx context.Context, feedbackID int64) (*Escrow, error) {
	return v.store.Get(ctx, feedbackID)
}

// ListByReviewer returns escrows bonded by a reviewer.
func (v *Vault) ListByReviewer(ctx context.Context, reviewer string, limit int) ([]*Escrow, error) {
	if limit <= 0 {
		limit = 50
	}
	return v.store.ListByReviewer(ctx, reviewer, limit)
}

// BeginResolution claims the global resolution guard.
// Returns ErrReentrantResolution if a resolution is already running.
func (v *Vault) BeginResolution() error {
	if !v.resolving.CompareAndSwap(false, true) {
		return ErrReentrantResolution
	}
	return nil
}

// EndResolution releases the resolution guard.
func (v *Vault) EndResolution() {
	v.resolving.Store(false)
}
