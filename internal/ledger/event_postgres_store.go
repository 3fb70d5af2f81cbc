package ledger

import (
	"context"
	"database/sql"
	"time"
)

// PostgresEventStore implements EventStore using PostgreSQL.
type PostgresEventStore struct {
	db *sql.DB
}

// NewPostgresEventStore creates a new PostgreSQL-backed event store.
func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

func (s *PostgresEventStore) AppendEvent(ctx context.Context, event *Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_events (principal, event_type, amount, reference, counterparty, created_at)
		VALUES ($1, $2, $3::NUMERIC(20,6), $4, $5, NOW())
	`, event.Principal, event.EventType, event.Amount, event.Reference, event.Counterparty)
	return err
}

func (s *PostgresEventStore) GetEvents(ctx context.Context, principal string, since time.Time) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, principal, event_type, amount, COALESCE(reference, ''), COALESCE(counterparty, ''), created_at
		FROM ledger_events
		WHERE principal = $1 AND created_at >= $2
		ORDER BY id ASC
	`, principal, since)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(&e.ID, &e.Principal, &e.EventType, &e.Amount, &e.Reference, &e.Counterparty, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresEventStore) GetAllPrincipals(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT principal FROM ledger_events ORDER BY principal
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var principals []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		principals = append(principals, p)
	}
	return principals, rows.Err()
}
