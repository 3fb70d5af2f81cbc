package vault

import (
	"context"
	"database/sql"
)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, escrow *Escrow) error {
	const q = `
		INSERT INTO stake_escrows (feedback_id, reviewer, amount, released, created_at)
		VALUES ($1, $2, $3::NUMERIC(20,6), $4, $5)`

	_, err := p.db.ExecContext(ctx, q,
		escrow.FeedbackID, escrow.Reviewer, escrow.Amount, escrow.Released, escrow.CreatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, feedbackID int64) (*Escrow, error) {
	const q = `
		SELECT feedback_id, reviewer, amount, released, COALESCE(recipient, ''), created_at, released_at
		FROM stake_escrows
		WHERE feedback_id = $1`

	e := &Escrow{}
	var releasedAt sql.NullTime
	err := p.db.QueryRowContext(ctx, q, feedbackID).Scan(
		&e.FeedbackID, &e.Reviewer, &e.Amount, &e.Released, &e.Recipient, &e.CreatedAt, &releasedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNoEscrow
	}
	if err != nil {
		return nil, err
	}
	if releasedAt.Valid {
		e.ReleasedAt = &releasedAt.Time
	}
	return e, nil
}

func (p *PostgresStore) Update(ctx context.Context, escrow *Escrow) error {
	const q = `
		UPDATE stake_escrows
		SET released = $2, recipient = $3, released_at = $4
		WHERE feedback_id = $1`

	result, err := p.db.ExecContext(ctx, q,
		escrow.FeedbackID, escrow.Released, escrow.Recipient, escrow.ReleasedAt)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNoEscrow
	}
	return nil
}

func (p *PostgresStore) ListByReviewer(ctx context.Context, reviewer string, limit int) ([]*Escrow, error) {
	const q = `
		SELECT feedback_id, reviewer, amount, released, COALESCE(recipient, ''), created_at, released_at
		FROM stake_escrows
		WHERE reviewer = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := p.db.QueryContext(ctx, q, reviewer, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Escrow
	for rows.Next() {
		e := &Escrow{}
		var releasedAt sql.NullTime
		if err := rows.Scan(&e.FeedbackID, &e.Reviewer, &e.Amount, &e.Released, &e.Recipient, &e.CreatedAt, &releasedAt); err != nil {
			return nil, err
		}
		if releasedAt.Valid {
			e.ReleasedAt = &releasedAt.Time
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
