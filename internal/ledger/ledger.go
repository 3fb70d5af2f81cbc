// Package ledger tracks principal credit balances.
//
// Flow:
//  1. Operator credits a principal (deposit)
//  2. Principal stakes credits on feedback (escrow lock)
//  3. Dispute resolution releases the escrow back to the reviewer
//     or transfers it to the treasury
//
// Balances are kept as 6-decimal fixed-point strings. Every state
// change also lands in an append-only event journal so balances can
// be rebuilt and reconciled.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/psinet/trustd/internal/credits"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPrincipalNotFound   = errors.New("principal not found")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrDuplicateDeposit    = errors.New("deposit already processed")
)

// Entry represents a ledger entry
type Entry struct {
	ID          string    `json:"id"`
	Principal   string    `json:"principal"`
	Type        string    `json:"type"` // deposit, escrow_lock, escrow_release, escrow_receive, escrow_refund
	Amount      string    `json:"amount"`
	Reference   string    `json:"reference,omitempty"` // feedback ID, deposit ref, etc.
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Balance represents a principal's balance
type Balance struct {
	Principal string    `json:"principal"`
	Available string    `json:"available"` // Can be staked
	Escrowed  string    `json:"escrowed"`  // Locked behind staked feedback
	TotalIn   string    `json:"totalIn"`   // Lifetime credits
	TotalOut  string    `json:"totalOut"`  // Lifetime transfers out
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists ledger data
type Store interface {
	GetBalance(ctx context.Context, principal string) (*Balance, error)
	Credit(ctx context.Context, principal, amount, reference, description string) error
	EscrowLock(ctx context.Context, principal, amount, reference string) error
	ReleaseEscrow(ctx context.Context, from, to, amount, reference string) error
	RefundEscrow(ctx context.Context, principal, amount, reference string) error
	GetHistory(ctx context.Context, principal string, limit int) ([]*Entry, error)
	HasDeposit(ctx context.Context, reference string) (bool, error)
}

// Ledger manages principal balances
type Ledger struct {
	store  Store
	events EventStore // optional journal; nil disables
}

// New creates a new ledger
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// WithEvents attaches an append-only event journal.
func (l *Ledger) WithEvents(es EventStore) *Ledger {
	l.events = es
	return l
}

// GetBalance returns a principal's current balance
func (l *Ledger) GetBalance(ctx context.Context, principal string) (*Balance, error) {
	return l.store.GetBalance(ctx, principal)
}

// Deposit credits a principal's balance. Reference deduplicates
// retried deposits.
func (l *Ledger) Deposit(ctx context.Context, principal, amount, reference string) error {
	defer observeOp("deposit")()

	amountBig, ok := credits.Parse(amount)
	if !ok || amountBig.Sign() <= 0 {
		return ErrInvalidAmount
	}

	exists, err := l.store.HasDeposit(ctx, reference)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateDeposit
	}

	if err := l.store.Credit(ctx, principal, amount, reference, "deposit"); err != nil {
		return err
	}

	l.journal(ctx, &Event{Principal: principal, EventType: "deposit", Amount: amount, Reference: reference})
	return nil
}

// EscrowLock moves funds from available to escrowed
func (l *Ledger) EscrowLock(ctx context.Context, principal, amount, reference string) error {
	defer observeOp("escrow_lock")()

	amountBig, ok := credits.Parse(amount)
	if !ok || amountBig.Sign() <= 0 {
		return ErrInvalidAmount
	}

	if err := l.store.EscrowLock(ctx, principal, amount, reference); err != nil {
		return err
	}

	l.journal(ctx, &Event{Principal: principal, EventType: "escrow_lock", Amount: amount, Reference: reference})
	return nil
}

// ReleaseEscrow moves escrowed funds from one principal to another's
// available balance. Used both for returning a stake to its reviewer
// (from == to) and for slashing to the treasury.
func (l *Ledger) ReleaseEscrow(ctx context.Context, from, to, amount, reference string) error {
	defer observeOp("escrow_release")()

	amountBig, ok := credits.Parse(amount)
	if !ok || amountBig.Sign() <= 0 {
		return ErrInvalidAmount
	}

	if from == to {
		if err := l.store.RefundEscrow(ctx, from, amount, reference); err != nil {
			return err
		}
		l.journal(ctx, &Event{Principal: from, EventType: "escrow_refund", Amount: amount, Reference: reference})
		return nil
	}

	if err := l.store.ReleaseEscrow(ctx, from, to, amount, reference); err != nil {
		return err
	}

	l.journal(ctx, &Event{Principal: from, EventType: "escrow_release", Amount: amount, Reference: reference, Counterparty: to})
	l.journal(ctx, &Event{Principal: to, EventType: "escrow_receive", Amount: amount, Reference: reference, Counterparty: from})
	return nil
}

// CanSpend checks if a principal has sufficient available balance
func (l *Ledger) CanSpend(ctx context.Context, principal, amount string) (bool, error) {
	amountBig, ok := credits.Parse(amount)
	if !ok {
		return false, ErrInvalidAmount
	}

	bal, err := l.store.GetBalance(ctx, principal)
	if err != nil {
		return false, err
	}

	availableBig, _ := credits.Parse(bal.Available)
	return availableBig.Cmp(amountBig) >= 0, nil
}

// GetHistory returns ledger entries for a principal
func (l *Ledger) GetHistory(ctx context.Context, principal string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.GetHistory(ctx, principal, limit)
}

func (l *Ledger) journal(ctx context.Context, e *Event) {
	if l.events == nil {
		return
	}
	// Journal failures never fail the operation; reconciliation
	// surfaces any resulting drift.
	_ = l.events.AppendEvent(ctx, e)
}
