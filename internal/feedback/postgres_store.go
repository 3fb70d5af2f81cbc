package feedback

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists the feedback ledger in Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed ledger.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append inserts the entry and fills in its assigned ID.
func (s *PostgresStore) Append(ctx context.Context, f *Feedback) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO feedback (agent_id, reviewer, type, rating, context_hash, metadata, stake, disputed, removed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, FALSE, FALSE, $8)
		RETURNING id`,
		f.AgentID, f.Reviewer, string(f.Type), f.Rating, f.ContextHash, f.Metadata, f.Stake, f.CreatedAt,
	).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

const feedbackColumns = `id, agent_id, reviewer, type, rating, context_hash, metadata,
	stake::text, disputed, COALESCE(dispute_reason, ''), removed, created_at`

// Get returns one entry by ID.
func (s *PostgresStore) Get(ctx context.Context, id int64) (*Feedback, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+feedbackColumns+` FROM feedback WHERE id = $1`, id)
	f, err := scanFeedback(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return f, err
}

// ListByAgent returns an agent's entries, newest first.
func (s *PostgresStore) ListByAgent(ctx context.Context, agentID string, limit int) ([]*Feedback, error) {
	return s.list(ctx, `agent_id = $1`, agentID, limit)
}

// ListByReviewer returns a reviewer's entries, newest first.
func (s *PostgresStore) ListByReviewer(ctx context.Context, reviewer string, limit int) ([]*Feedback, error) {
	return s.list(ctx, `reviewer = $1`, reviewer, limit)
}

func (s *PostgresStore) list(ctx context.Context, where, arg string, limit int) ([]*Feedback, error) {
	query := `SELECT ` + feedbackColumns + ` FROM feedback WHERE ` + where + ` ORDER BY id DESC`
	args := []interface{}{arg}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()

	var out []*Feedback
	for rows.Next() {
		f, err := scanFeedback(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFeedback(row rowScanner) (*Feedback, error) {
	var (
		f     Feedback
		ftype string
	)
	err := row.Scan(&f.ID, &f.AgentID, &f.Reviewer, &ftype, &f.Rating,
		&f.ContextHash, &f.Metadata, &f.Stake, &f.Disputed, &f.DisputeReason,
		&f.Removed, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	f.Type = Type(ftype)
	return &f, nil
}

// Update rewrites the mutable status fields of an existing entry.
func (s *PostgresStore) Update(ctx context.Context, f *Feedback) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE feedback
		SET rating = $2, stake = $3::numeric, disputed = $4,
		    dispute_reason = NULLIF($5, ''), removed = $6
		WHERE id = $1`,
		f.ID, f.Rating, f.Stake, f.Disputed, f.DisputeReason, f.Removed)
	if err != nil {
		return fmt.Errorf("update feedback: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Discard drops an entry whose stake hold failed. The ID is not reused.
func (s *PostgresStore) Discard(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM feedback WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("discard feedback: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Counts returns the agent's per-type counters.
func (s *PostgresStore) Counts(ctx context.Context, agentID string) (*Counts, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, count FROM feedback_counts WHERE agent_id = $1`, agentID)
	if err != nil {
		return nil, fmt.Errorf("query counts: %w", err)
	}
	defer rows.Close()

	c := &Counts{}
	for rows.Next() {
		var (
			t string
			n int64
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		switch Type(t) {
		case TypePositive:
			c.Positive = n
		case TypeNegative:
			c.Negative = n
		case TypeNeutral:
			c.Neutral = n
		case TypeDispute:
			c.Dispute = n
		}
	}
	return c, rows.Err()
}

// AdjustCount shifts one per-type counter by delta.
func (s *PostgresStore) AdjustCount(ctx context.Context, agentID string, t Type, delta int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback_counts (agent_id, type, count)
		VALUES ($1, $2, GREATEST($3, 0))
		ON CONFLICT (agent_id, type)
		DO UPDATE SET count = GREATEST(feedback_counts.count + $3, 0)`,
		agentID, string(t), delta)
	if err != nil {
		return fmt.Errorf("adjust count: %w", err)
	}
	return nil
}
