package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/psinet/trustd/internal/credits"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
type MemoryStore struct {
	balances map[string]*Balance
	entries  []*Entry
	deposits map[string]bool
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]*Balance),
		entries:  make([]*Entry, 0),
		deposits: make(map[string]bool),
	}
}

func newBalance(principal string) *Balance {
	return &Balance{
		Principal: principal,
		Available: credits.Zero,
		Escrowed:  credits.Zero,
		TotalIn:   credits.Zero,
		TotalOut:  credits.Zero,
	}
}

func (m *MemoryStore) GetBalance(ctx context.Context, principal string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if bal, ok := m.balances[principal]; ok {
		cp := *bal
		return &cp, nil
	}
	bal := newBalance(principal)
	bal.UpdatedAt = time.Now()
	return bal, nil
}

func (m *MemoryStore) Credit(ctx context.Context, principal, amount, reference, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[principal]
	if !ok {
		bal = newBalance(principal)
		m.balances[principal] = bal
	}

	avail, _ := credits.Parse(bal.Available)
	totalIn, _ := credits.Parse(bal.TotalIn)
	add, _ := credits.Parse(amount)

	avail.Add(avail, add)
	totalIn.Add(totalIn, add)

	bal.Available = credits.Format(avail)
	bal.TotalIn = credits.Format(totalIn)
	bal.UpdatedAt = time.Now()

	m.entries = append(m.entries, &Entry{
		ID:          "entry_" + reference,
		Principal:   principal,
		Type:        "deposit",
		Amount:      amount,
		Reference:   reference,
		Description: description,
		CreatedAt:   time.Now(),
	})

	m.deposits[reference] = true

	return nil
}

func (m *MemoryStore) EscrowLock(ctx context.Context, principal, amount, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[principal]
	if !ok {
		return ErrPrincipalNotFound
	}

	avail, _ := credits.Parse(bal.Available)
	escrow, _ := credits.Parse(bal.Escrowed)
	sub, _ := credits.Parse(amount)

	if avail.Cmp(sub) < 0 {
		return ErrInsufficientBalance
	}

	avail.Sub(avail, sub)
	escrow.Add(escrow, sub)

	bal.Available = credits.Format(avail)
	bal.Escrowed = credits.Format(escrow)
	bal.UpdatedAt = time.Now()

	m.entries = append(m.entries, &Entry{
		ID:          "entry_escrow_lock_" + reference,
		Principal:   principal,
		Type:        "escrow_lock",
		Amount:      amount,
		Reference:   reference,
		Description: "stake_locked",
		CreatedAt:   time.Now(),
	})

	return nil
}

func (m *MemoryStore) ReleaseEscrow(ctx context.Context, from, to, amount, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fromBal, ok := m.balances[from]
	if !ok {
		return ErrPrincipalNotFound
	}

	escrow, _ := credits.Parse(fromBal.Escrowed)
	totalOut, _ := credits.Parse(fromBal.TotalOut)
	sub, _ := credits.Parse(amount)

	if escrow.Cmp(sub) < 0 {
		return ErrInsufficientBalance
	}

	escrow.Sub(escrow, sub)
	totalOut.Add(totalOut, sub)
	fromBal.Escrowed = credits.Format(escrow)
	fromBal.TotalOut = credits.Format(totalOut)
	fromBal.UpdatedAt = time.Now()

	toBal, ok := m.balances[to]
	if !ok {
		toBal = newBalance(to)
		m.balances[to] = toBal
	}

	toAvail, _ := credits.Parse(toBal.Available)
	toTotalIn, _ := credits.Parse(toBal.TotalIn)
	toAvail.Add(toAvail, sub)
	toTotalIn.Add(toTotalIn, sub)
	toBal.Available = credits.Format(toAvail)
	toBal.TotalIn = credits.Format(toTotalIn)
	toBal.UpdatedAt = time.Now()

	m.entries = append(m.entries, &Entry{
		ID:          "entry_escrow_release_" + reference,
		Principal:   from,
		Type:        "escrow_release",
		Amount:      amount,
		Reference:   reference,
		Description: "escrow_released_to_" + to,
		CreatedAt:   time.Now(),
	})
	m.entries = append(m.entries, &Entry{
		ID:          "entry_escrow_receive_" + reference,
		Principal:   to,
		Type:        "escrow_receive",
		Amount:      amount,
		Reference:   reference,
		Description: "escrow_received_from_" + from,
		CreatedAt:   time.Now(),
	})

	return nil
}

func (m *MemoryStore) RefundEscrow(ctx context.Context, principal, amount, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[principal]
	if !ok {
		return ErrPrincipalNotFound
	}

	avail, _ := credits.Parse(bal.Available)
	escrow, _ := credits.Parse(bal.Escrowed)
	sub, _ := credits.Parse(amount)

	if escrow.Cmp(sub) < 0 {
		return ErrInsufficientBalance
	}

	escrow.Sub(escrow, sub)
	avail.Add(avail, sub)

	bal.Available = credits.Format(avail)
	bal.Escrowed = credits.Format(escrow)
	bal.UpdatedAt = time.Now()

	m.entries = append(m.entries, &Entry{
		ID:          "entry_escrow_refund_" + reference,
		Principal:   principal,
		Type:        "escrow_refund",
		Amount:      amount,
		Reference:   reference,
		Description: "escrow_refunded",
		CreatedAt:   time.Now(),
	})

	return nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, principal string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if m.entries[i].Principal == principal {
			result = append(result, m.entries[i])
		}
	}
	return result, nil
}

func (m *MemoryStore) HasDeposit(ctx context.Context, reference string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deposits[reference], nil
}
