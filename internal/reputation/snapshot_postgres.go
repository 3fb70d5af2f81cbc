package reputation

import (
	"context"
	"database/sql"
	"strconv"
)

// PostgresSnapshotStore implements SnapshotStore backed by PostgreSQL.
type PostgresSnapshotStore struct {
	db *sql.DB
}

// NewPostgresSnapshotStore creates a PostgreSQL-backed snapshot store.
func NewPostgresSnapshotStore(db *sql.DB) *PostgresSnapshotStore {
	return &PostgresSnapshotStore{db: db}
}

func (p *PostgresSnapshotStore) Save(ctx context.Context, snap *Snapshot) error {
	const q = `
		INSERT INTO reputation_snapshots (agent_id, score, feedback_count)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	return p.db.QueryRowContext(ctx, q,
		snap.AgentID,
		snap.Score,
		snap.FeedbackCount,
	).Scan(&snap.ID, &snap.CreatedAt)
}

func (p *PostgresSnapshotStore) SaveBatch(ctx context.Context, snaps []*Snapshot) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO reputation_snapshots (agent_id, score, feedback_count)
		VALUES ($1, $2, $3)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, s := range snaps {
		if _, err := stmt.ExecContext(ctx, s.AgentID, s.Score, s.FeedbackCount); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (p *PostgresSnapshotStore) Query(ctx context.Context, q HistoryQuery) ([]*Snapshot, error) {
	query := `
		SELECT id, agent_id, score, feedback_count, created_at
		FROM reputation_snapshots
		WHERE agent_id = $1`

	args := []interface{}{q.AgentID}
	argIdx := 2

	if !q.From.IsZero() {
		query += " AND created_at >= $" + strconv.Itoa(argIdx)
		args = append(args, q.From)
		argIdx++
	}
	if !q.To.IsZero() {
		query += " AND created_at <= $" + strconv.Itoa(argIdx)
		args = append(args, q.To)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT $" + strconv.Itoa(argIdx)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Snapshot
	for rows.Next() {
		s := &Snapshot{}
		if err := rows.Scan(&s.ID, &s.AgentID, &s.Score, &s.FeedbackCount, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresSnapshotStore) Latest(ctx context.Context, agentID string) (*Snapshot, error) {
	const q = `
		SELECT id, agent_id, score, feedback_count, created_at
		FROM reputation_snapshots
		WHERE agent_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	row := p.db.QueryRowContext(ctx, q, agentID)
	s := &Snapshot{}
	err := row.Scan(&s.ID, &s.AgentID, &s.Score, &s.FeedbackCount, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
