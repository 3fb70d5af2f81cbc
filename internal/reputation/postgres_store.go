package reputation

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresScoreStore caches scores in the reputation_scores table.
type PostgresScoreStore struct {
	db *sql.DB
}

// NewPostgresScoreStore creates a Postgres-backed score cache.
func NewPostgresScoreStore(db *sql.DB) *PostgresScoreStore {
	return &PostgresScoreStore{db: db}
}

func (s *PostgresScoreStore) Get(ctx context.Context, agentID string) (*Result, error) {
	var r Result
	err := s.db.QueryRowContext(ctx, `
		SELECT agent_id, score, feedback_count, computed_at
		FROM reputation_scores
		WHERE agent_id = $1`, agentID,
	).Scan(&r.AgentID, &r.Score, &r.FeedbackCount, &r.ComputedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query score: %w", err)
	}
	return &r, nil
}

func (s *PostgresScoreStore) Upsert(ctx context.Context, result *Result) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reputation_scores (agent_id, score, feedback_count, computed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (agent_id)
		DO UPDATE SET score = $2, feedback_count = $3, computed_at = $4`,
		result.AgentID, result.Score, result.FeedbackCount, result.ComputedAt)
	if err != nil {
		return fmt.Errorf("upsert score: %w", err)
	}
	return nil
}

func (s *PostgresScoreStore) ListAll(ctx context.Context) ([]*Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, score, feedback_count, computed_at
		FROM reputation_scores
		ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}
	defer rows.Close()

	var out []*Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.AgentID, &r.Score, &r.FeedbackCount, &r.ComputedAt); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
