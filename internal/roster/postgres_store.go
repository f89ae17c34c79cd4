package roster

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/schooltino/creditcore/internal/wallet"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed roster store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Upsert(ctx context.Context, u *User) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO roster_users (tenant_id, user_id, user_kind, active, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, $4, $4)
		ON CONFLICT (tenant_id, user_id)
		DO UPDATE SET user_kind = $3, active = TRUE, updated_at = $4
	`, u.TenantID, u.UserID, string(u.UserKind), u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert roster user: %w: %v", wallet.ErrStorageUnavailable, err)
	}
	return nil
}

func (p *PostgresStore) Deactivate(ctx context.Context, tenantID, userID string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE roster_users SET active = FALSE, updated_at = $3
		WHERE tenant_id = $1 AND user_id = $2
	`, tenantID, userID, at)
	if err != nil {
		return fmt.Errorf("deactivate roster user: %w: %v", wallet.ErrStorageUnavailable, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (p *PostgresStore) ListActive(ctx context.Context, tenantID string) ([]*User, error) {
	return p.list(ctx, tenantID, `
		SELECT tenant_id, user_id, user_kind, active, created_at, updated_at
		FROM roster_users WHERE tenant_id = $1 AND active ORDER BY user_id
	`)
}

func (p *PostgresStore) List(ctx context.Context, tenantID string) ([]*User, error) {
	return p.list(ctx, tenantID, `
		SELECT tenant_id, user_id, user_kind, active, created_at, updated_at
		FROM roster_users WHERE tenant_id = $1 ORDER BY user_id
	`)
}

func (p *PostgresStore) list(ctx context.Context, tenantID, query string) ([]*User, error) {
	rows, err := p.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list roster: %w: %v", wallet.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u := &User{}
		var kind string
		if err := rows.Scan(&u.TenantID, &u.UserID, &kind, &u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan roster user: %w: %v", wallet.ErrStorageUnavailable, err)
		}
		u.UserKind = wallet.UserKind(kind)
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list roster: %w: %v", wallet.ErrStorageUnavailable, err)
	}
	return out, nil
}
