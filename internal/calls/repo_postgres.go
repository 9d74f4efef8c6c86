package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"leasing-telephony/pkg/utils"
)

// PostgresRepo stores communications in:
//
//	communications (id, external_call_id, transferred_from_comm_id, direction, from_number,
//	                to_number, party_id, team_id, program_id, user_id, answered, outcome,
//	                missed_reason, from_queue, receivers jsonb, hung_up_endpoints jsonb,
//	                created_at, ended_at)
//
// with a unique index on (external_call_id, COALESCE(transferred_from_comm_id, '')).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const commColumns = `id, external_call_id, COALESCE(transferred_from_comm_id, ''), direction, from_number, to_number,
COALESCE(party_id, ''), COALESCE(team_id, ''), COALESCE(program_id, ''), COALESCE(user_id, ''),
answered, outcome, missed_reason, from_queue, receivers, hung_up_endpoints, created_at, ended_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanComm(row rowScanner) (Communication, error) {
	var (
		c         Communication
		receivers []byte
		hungUp    []byte
		endedAt   sql.NullTime
	)
	err := row.Scan(&c.ID, &c.ExternalCallID, &c.TransferredFromCommID, &c.Direction, &c.From, &c.To,
		&c.PartyID, &c.TeamID, &c.ProgramID, &c.UserID,
		&c.Answered, &c.Outcome, &c.MissedReason, &c.FromQueue, &receivers, &hungUp, &c.CreatedAt, &endedAt)
	if err != nil {
		return Communication{}, err
	}
	if len(receivers) > 0 {
		if err := json.Unmarshal(receivers, &c.Receivers); err != nil {
			return Communication{}, fmt.Errorf("calls: decode receivers for %s: %w", c.ID, err)
		}
	}
	if len(hungUp) > 0 {
		if err := json.Unmarshal(hungUp, &c.HungUpEndpoints); err != nil {
			return Communication{}, fmt.Errorf("calls: decode hung up endpoints for %s: %w", c.ID, err)
		}
	}
	if endedAt.Valid {
		t := endedAt.Time
		c.EndedAt = &t
	}
	return c, nil
}

func (r *PostgresRepo) queryOne(ctx context.Context, q string, args ...any) (Communication, error) {
	c, err := scanComm(r.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Communication{}, ErrNotFound
	}
	return c, err
}

func (r *PostgresRepo) queryMany(ctx context.Context, q string, args ...any) ([]Communication, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Communication
	for rows.Next() {
		c, err := scanComm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Communication, error) {
	return r.queryOne(ctx, `SELECT `+commColumns+` FROM communications WHERE id = $1`, id)
}

func (r *PostgresRepo) FindByExternalCall(ctx context.Context, externalCallID, transferredFromCommID string) (Communication, error) {
	return r.queryOne(ctx, `SELECT `+commColumns+` FROM communications
WHERE external_call_id = $1 AND COALESCE(transferred_from_comm_id, '') = $2
ORDER BY created_at
LIMIT 1`, externalCallID, transferredFromCommID)
}

func (r *PostgresRepo) Create(ctx context.Context, c Communication) (Communication, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	receivers, err := json.Marshal(orEmptyMap(c.Receivers))
	if err != nil {
		return Communication{}, err
	}
	const q = `
INSERT INTO communications (id, external_call_id, transferred_from_comm_id, direction, from_number, to_number,
  party_id, team_id, program_id, user_id, answered, outcome, missed_reason, from_queue,
  receivers, hung_up_endpoints, created_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''),
  false, '', '', false, $11, '[]'::jsonb, now())
RETURNING ` + commColumns
	created, err := r.queryOne(ctx, q, c.ID, c.ExternalCallID, c.TransferredFromCommID, string(c.Direction), c.From, c.To,
		c.PartyID, c.TeamID, c.ProgramID, c.UserID, receivers)
	if utils.IsUniqueViolation(err) {
		// A concurrent retry of the same provider call won the insert.
		return r.FindByExternalCall(ctx, c.ExternalCallID, c.TransferredFromCommID)
	}
	return created, err
}

func (r *PostgresRepo) exec(ctx context.Context, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) SetUser(ctx context.Context, id, userID string) error {
	return r.exec(ctx, `UPDATE communications SET user_id = NULLIF($2, '') WHERE id = $1`, id, userID)
}

func (r *PostgresRepo) SetParty(ctx context.Context, id, partyID string) error {
	return r.exec(ctx, `UPDATE communications SET party_id = NULLIF($2, '') WHERE id = $1`, id, partyID)
}

func (r *PostgresRepo) SetReceivers(ctx context.Context, id string, receivers map[string][]string) error {
	b, err := json.Marshal(orEmptyMap(receivers))
	if err != nil {
		return err
	}
	return r.exec(ctx, `UPDATE communications SET receivers = $2 WHERE id = $1`, id, b)
}

func (r *PostgresRepo) SetFromQueue(ctx context.Context, id string) error {
	return r.exec(ctx, `UPDATE communications SET from_queue = true WHERE id = $1`, id)
}

func (r *PostgresRepo) MarkEndpointHungUp(ctx context.Context, id, username string) (Communication, error) {
	const q = `
UPDATE communications
SET hung_up_endpoints = CASE
      WHEN hung_up_endpoints @> jsonb_build_array($2::text) THEN hung_up_endpoints
      ELSE hung_up_endpoints || jsonb_build_array($2::text)
    END
WHERE id = $1
RETURNING ` + commColumns
	return r.queryOne(ctx, q, id, username)
}

// MarkAnswered is a single conditional UPDATE; the row lock Postgres takes for it decides
// the winner between concurrent answers.
func (r *PostgresRepo) MarkAnswered(ctx context.Context, id, userID string) (Communication, bool, error) {
	const q = `
UPDATE communications
SET answered = true, user_id = $2, outcome = $3, missed_reason = ''
WHERE id = $1 AND answered = false
RETURNING ` + commColumns
	c, err := r.queryOne(ctx, q, id, userID, string(OutcomeAnswered))
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Communication{}, false, err
	}
	c, err = r.Get(ctx, id)
	return c, false, err
}

func (r *PostgresRepo) ReleaseAnswer(ctx context.Context, id, userID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE communications
SET answered = false, user_id = NULL, outcome = ''
WHERE id = $1 AND answered = true AND user_id = $2`, id, userID)
	return err
}

func (r *PostgresRepo) RecordOutcome(ctx context.Context, id string, outcome Outcome, reason MissedReason) (Communication, error) {
	const q = `
UPDATE communications
SET outcome = $2, missed_reason = $3
WHERE id = $1 AND (answered = false OR $2 = $4)
RETURNING ` + commColumns
	c, err := r.queryOne(ctx, q, id, string(outcome), string(reason), string(OutcomeAnswered))
	if errors.Is(err, ErrNotFound) {
		return r.Get(ctx, id)
	}
	return c, err
}

func (r *PostgresRepo) MarkEnded(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE communications SET ended_at = COALESCE(ended_at, $2) WHERE id = $1`, id, at)
	return err
}

func (r *PostgresRepo) OpenForAgent(ctx context.Context, userID string) ([]Communication, error) {
	return r.queryMany(ctx, `SELECT `+commColumns+` FROM communications
WHERE ended_at IS NULL AND (user_id = $1 OR receivers ? $1)
ORDER BY created_at, id`, userID)
}

func (r *PostgresRepo) ListByTeam(ctx context.Context, teamID string, from, to time.Time) ([]Communication, error) {
	return r.queryMany(ctx, `SELECT `+commColumns+` FROM communications
WHERE team_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at, id`, teamID, from, to)
}

func orEmptyMap(m map[string][]string) map[string][]string {
	if m == nil {
		return map[string][]string{}
	}
	return m
}
