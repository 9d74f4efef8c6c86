package parties

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

// PostgresRepo stores parties in
//
//	parties (id, caller_phone, owner_user_id, owner_team_id, property_id, closed, created_at)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const partyColumns = `id, caller_phone, COALESCE(owner_user_id, ''), COALESCE(owner_team_id, ''), COALESCE(property_id, ''), closed, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParty(row rowScanner) (Party, error) {
	var p Party
	err := row.Scan(&p.ID, &p.CallerPhone, &p.OwnerUserID, &p.OwnerTeamID, &p.PropertyID, &p.Closed, &p.CreatedAt)
	return p, err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Party, error) {
	p, err := scanParty(r.db.QueryRowContext(ctx, `SELECT `+partyColumns+` FROM parties WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Party{}, ErrNotFound
	}
	return p, err
}

func (r *PostgresRepo) FindOpenByPhone(ctx context.Context, phone string) ([]Party, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+partyColumns+` FROM parties WHERE caller_phone = $1 AND closed = false ORDER BY created_at, id`, phone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Party
	for rows.Next() {
		p, err := scanParty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Create(ctx context.Context, p Party) (Party, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	const q = `
INSERT INTO parties (id, caller_phone, owner_user_id, owner_team_id, property_id, closed, created_at)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, now())
RETURNING ` + partyColumns
	return scanParty(r.db.QueryRowContext(ctx, q, p.ID, p.CallerPhone, p.OwnerUserID, p.OwnerTeamID, p.PropertyID, p.Closed))
}

func (r *PostgresRepo) AssignOwner(ctx context.Context, partyID, userID, teamID string) (Party, error) {
	const q = `
UPDATE parties
SET owner_user_id = $2,
    owner_team_id = COALESCE(owner_team_id, NULLIF($3, ''))
WHERE id = $1 AND owner_user_id IS NULL
RETURNING ` + partyColumns
	p, err := scanParty(r.db.QueryRowContext(ctx, q, partyID, userID, teamID))
	if errors.Is(err, sql.ErrNoRows) {
		return r.Get(ctx, partyID)
	}
	return p, err
}
