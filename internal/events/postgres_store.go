package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/psinet/trustd/internal/pagination"
)

// PostgresStore persists events in the engine_events table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed event log.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append inserts an event.
func (s *PostgresStore) Append(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO engine_events (id, event_type, agent_id, data, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		event.ID, string(event.Type), event.AgentID, data, event.Timestamp)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// List returns the most recent events, newest first.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, agent_id, data, created_at
		FROM engine_events
		ORDER BY created_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListBefore returns events strictly older than the cursor, newest first.
func (s *PostgresStore) ListBefore(ctx context.Context, before *pagination.Cursor, limit int) ([]*Event, error) {
	if before == nil {
		return s.List(ctx, limit)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, agent_id, data, created_at
		FROM engine_events
		WHERE (created_at, id) < ($1, $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3`, before.CreatedAt, before.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("query events page: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListByAgent returns the most recent events for one agent, newest first.
func (s *PostgresStore) ListByAgent(ctx context.Context, agentID string, limit int) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, agent_id, data, created_at
		FROM engine_events
		WHERE agent_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query agent events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var out []*Event
	for rows.Next() {
		var (
			e         Event
			eventType string
			raw       []byte
		)
		if err := rows.Scan(&e.ID, &eventType, &e.AgentID, &raw, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = Type(eventType)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Data); err != nil {
				return nil, fmt.Errorf("unmarshal event data: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
