package ledger

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"time"
)

func generateID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetBalance retrieves a principal's balance
func (p *PostgresStore) GetBalance(ctx context.Context, principal string) (*Balance, error) {
	bal := &Balance{Principal: principal}

	err := p.db.QueryRowContext(ctx, `
		SELECT available, escrowed, total_in, total_out, updated_at
		FROM balances WHERE principal = $1
	`, principal).Scan(&bal.Available, &bal.Escrowed, &bal.TotalIn, &bal.TotalOut, &bal.UpdatedAt)

	if err == sql.ErrNoRows {
		return &Balance{
			Principal: principal,
			Available: "0",
			Escrowed:  "0",
			TotalIn:   "0",
			TotalOut:  "0",
			UpdatedAt: time.Now(),
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return bal, nil
}

// Credit adds funds to a principal's balance
func (p *PostgresStore) Credit(ctx context.Context, principal, amount, reference, description string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Upsert balance using native NUMERIC arithmetic
	_, err = tx.ExecContext(ctx, `
		INSERT INTO balances (principal, available, total_in, updated_at)
		VALUES ($1, $2::NUMERIC(20,6), $2::NUMERIC(20,6), NOW())
		ON CONFLICT (principal) DO UPDATE SET
			available  = balances.available + $2::NUMERIC(20,6),
			total_in   = balances.total_in  + $2::NUMERIC(20,6),
			updated_at = NOW()
	`, principal, amount)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, principal, type, amount, reference, description, created_at)
		VALUES ($1, $2, 'deposit', $3::NUMERIC(20,6), $4, $5, NOW())
	`, generateID(), principal, amount, reference, description)
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}

	return tx.Commit()
}

// EscrowLock moves funds from available to escrowed.
// The CHECK constraint on available >= 0 prevents overdraft at the DB level.
func (p *PostgresStore) EscrowLock(ctx context.Context, principal, amount, reference string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE balances SET
			available  = available - $2::NUMERIC(20,6),
			escrowed   = escrowed  + $2::NUMERIC(20,6),
			updated_at = NOW()
		WHERE principal = $1
	`, principal, amount)
	if err != nil {
		// CHECK constraint violation means insufficient balance
		return ErrInsufficientBalance
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrPrincipalNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, principal, type, amount, reference, description, created_at)
		VALUES ($1, $2, 'escrow_lock', $3::NUMERIC(20,6), $4, 'stake_locked', NOW())
	`, generateID(), principal, amount, reference)
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}

	return tx.Commit()
}

// ReleaseEscrow transfers escrowed funds to another principal's available
// balance in a single transaction.
func (p *PostgresStore) ReleaseEscrow(ctx context.Context, from, to, amount, reference string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE balances SET
			escrowed   = escrowed  - $2::NUMERIC(20,6),
			total_out  = total_out + $2::NUMERIC(20,6),
			updated_at = NOW()
		WHERE principal = $1
	`, from, amount)
	if err != nil {
		return ErrInsufficientBalance
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrPrincipalNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO balances (principal, available, total_in, updated_at)
		VALUES ($1, $2::NUMERIC(20,6), $2::NUMERIC(20,6), NOW())
		ON CONFLICT (principal) DO UPDATE SET
			available  = balances.available + $2::NUMERIC(20,6),
			total_in   = balances.total_in  + $2::NUMERIC(20,6),
			updated_at = NOW()
	`, to, amount)
	if err != nil {
		return fmt.Errorf("failed to credit recipient: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, principal, type, amount, reference, description, created_at)
		VALUES ($1, $2, 'escrow_release', $3::NUMERIC(20,6), $4, $5, NOW()),
		       ($6, $7, 'escrow_receive', $3::NUMERIC(20,6), $4, $8, NOW())
	`, generateID(), from, amount, reference, "escrow_released_to_"+to,
		generateID(), to, "escrow_received_from_"+from)
	if err != nil {
		return fmt.Errorf("failed to record entries: %w", err)
	}

	return tx.Commit()
}

// RefundEscrow returns escrowed funds to the same principal's available balance.
func (p *PostgresStore) RefundEscrow(ctx context.Context, principal, amount, reference string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE balances SET
			escrowed   = escrowed  - $2::NUMERIC(20,6),
			available  = available + $2::NUMERIC(20,6),
			updated_at = NOW()
		WHERE principal = $1
	`, principal, amount)
	if err != nil {
		return ErrInsufficientBalance
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrPrincipalNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, principal, type, amount, reference, description, created_at)
		VALUES ($1, $2, 'escrow_refund', $3::NUMERIC(20,6), $4, 'escrow_refunded', NOW())
	`, generateID(), principal, amount, reference)
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}

	return tx.Commit()
}

// GetHistory returns ledger entries for a principal
func (p *PostgresStore) GetHistory(ctx context.Context, principal string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, principal, type, amount, COALESCE(reference, ''), COALESCE(description, ''), created_at
		FROM ledger_entries
		WHERE principal = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, principal, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.Principal, &e.Type, &e.Amount, &e.Reference, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// HasDeposit reports whether a deposit reference was already processed
func (p *PostgresStore) HasDeposit(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE type = 'deposit' AND reference = $1)
	`, reference).Scan(&exists)
	return exists, err
}
