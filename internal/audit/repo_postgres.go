package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends to
//
//	audit_events (id, type, user_id, team_id, ip_address, comm_id, external_call_id, message, metadata, created_at)
//
// The table is INSERT-only.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, type, user_id, team_id, ip_address, comm_id, external_call_id, message, metadata, created_at)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, NULLIF($9, '')::jsonb, $10)`
	_, err := r.db.ExecContext(ctx, q, e.ID, e.Type, e.UserID, e.TeamID, e.IPAddress, e.CommID, e.ExternalCallID, e.Message, e.Metadata, e.CreatedAt)
	return err
}
