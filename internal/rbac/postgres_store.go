package rbac

import (
	"context"
	"database/sql"
)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed role store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Grant(ctx context.Context, g *Grant) error {
	const q = `
		INSERT INTO role_grants (principal, role, granted_by, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (principal, role) DO NOTHING`

	_, err := p.db.ExecContext(ctx, q, g.Principal, string(g.Role), g.GrantedBy, g.CreatedAt)
	return err
}

func (p *PostgresStore) Revoke(ctx context.Context, principal string, role Role) error {
	const q = `DELETE FROM role_grants WHERE principal = $1 AND role = $2`
	_, err := p.db.ExecContext(ctx, q, principal, string(role))
	return err
}

func (p *PostgresStore) Has(ctx context.Context, principal string, role Role) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM role_grants WHERE principal = $1 AND role = $2)`
	var held bool
	err := p.db.QueryRowContext(ctx, q, principal, string(role)).Scan(&held)
	return held, err
}

func (p *PostgresStore) ListMembers(ctx context.Context, role Role) ([]*Grant, error) {
	const q = `
		SELECT principal, role, granted_by, created_at
		FROM role_grants
		WHERE role = $1
		ORDER BY created_at`

	rows, err := p.db.QueryContext(ctx, q, string(role))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanGrants(rows)
}

func (p *PostgresStore) ListRoles(ctx context.Context, principal string) ([]*Grant, error) {
	const q = `
		SELECT principal, role, granted_by, created_at
		FROM role_grants
		WHERE principal = $1
		ORDER BY created_at`

	rows, err := p.db.QueryContext(ctx, q, principal)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanGrants(rows)
}

func scanGrants(rows *sql.Rows) ([]*Grant, error) {
	var out []*Grant
	for rows.Next() {
		g := &Grant{}
		var role string
		if err := rows.Scan(&g.Principal, &role, &g.GrantedBy, &g.CreatedAt); err != nil {
			return nil, err
		}
		g.Role = Role(role)
		out = append(out, g)
	}
	return out, rows.Err()
}
