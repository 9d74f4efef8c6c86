package callqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"leasing-telephony/pkg/utils"
)

// PostgresRepo stores the queue in:
//
//	queued_calls     (comm_id, team_id, external_call_id, from_number, party_id, locked,
//	                  declined_by jsonb, enqueued_at)
//	queued_call_legs (leg_id, comm_id REFERENCES queued_calls ON DELETE CASCADE, agent_id,
//	                  fired_at)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const callColumns = `comm_id, team_id, external_call_id, from_number, COALESCE(party_id, ''), locked, declined_by, enqueued_at`

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, q string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, q string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (QueuedCall, error) {
	var (
		q        QueuedCall
		declined []byte
	)
	if err := row.Scan(&q.CommID, &q.TeamID, &q.ExternalCallID, &q.From, &q.PartyID, &q.Locked, &declined, &q.EnqueuedAt); err != nil {
		return QueuedCall{}, err
	}
	if len(declined) > 0 {
		if err := json.Unmarshal(declined, &q.DeclinedBy); err != nil {
			return QueuedCall{}, fmt.Errorf("callqueue: decode declined_by for %s: %w", q.CommID, err)
		}
	}
	q.FiredLegs = map[string][]string{}
	return q, nil
}

// list runs SELECT ... where ORDER BY ... tail and attaches the legs of every call.
func (r *PostgresRepo) list(ctx context.Context, db queryer, where, tail string, args ...any) ([]QueuedCall, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+callColumns+` FROM queued_calls `+where+` ORDER BY enqueued_at, comm_id `+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueuedCall
	for rows.Next() {
		q, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// The connection must be free before the legs query when db is a transaction.
	rows.Close()
	return out, r.attachLegs(ctx, db, out)
}

func (r *PostgresRepo) one(ctx context.Context, db queryer, where, tail string, args ...any) (QueuedCall, error) {
	list, err := r.list(ctx, db, where, `LIMIT 1 `+tail, args...)
	if err != nil {
		return QueuedCall{}, err
	}
	if len(list) == 0 {
		return QueuedCall{}, ErrNotFound
	}
	return list[0], nil
}

func (r *PostgresRepo) attachLegs(ctx context.Context, db queryer, calls []QueuedCall) error {
	if len(calls) == 0 {
		return nil
	}
	ids := make([]string, len(calls))
	byID := make(map[string]*QueuedCall, len(calls))
	for i := range calls {
		ids[i] = calls[i].CommID
		byID[calls[i].CommID] = &calls[i]
	}
	rows, err := db.QueryContext(ctx, `SELECT comm_id, agent_id, leg_id FROM queued_call_legs
WHERE comm_id = ANY($1::text[]) ORDER BY fired_at, leg_id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var commID, agentID, legID string
		if err := rows.Scan(&commID, &agentID, &legID); err != nil {
			return err
		}
		if q := byID[commID]; q != nil {
			q.FiredLegs[agentID] = append(q.FiredLegs[agentID], legID)
		}
	}
	return rows.Err()
}

func (r *PostgresRepo) Add(ctx context.Context, q QueuedCall) error {
	declined, err := json.Marshal(orEmpty(q.DeclinedBy))
	if err != nil {
		return err
	}
	if q.EnqueuedAt.IsZero() {
		q.EnqueuedAt = time.Now().UTC()
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO queued_calls (comm_id, team_id, external_call_id, from_number, party_id, locked, declined_by, enqueued_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8)
ON CONFLICT (comm_id) DO NOTHING`,
		q.CommID, q.TeamID, q.ExternalCallID, q.From, q.PartyID, q.Locked, declined, q.EnqueuedAt)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, commID string) (QueuedCall, error) {
	return r.one(ctx, r.db, `WHERE comm_id = $1`, "", commID)
}

func (r *PostgresRepo) GetByExternalCall(ctx context.Context, externalCallID string) (QueuedCall, error) {
	return r.one(ctx, r.db, `WHERE external_call_id = $1`, "", externalCallID)
}

func (r *PostgresRepo) ListWaiting(ctx context.Context, teamIDs []string) ([]QueuedCall, error) {
	if len(teamIDs) == 0 {
		return r.list(ctx, r.db, `WHERE locked = false`, "")
	}
	return r.list(ctx, r.db, `WHERE locked = false AND team_id = ANY($1::text[])`, "", teamIDs)
}

func (r *PostgresRepo) ListByTeam(ctx context.Context, teamID string) ([]QueuedCall, error) {
	return r.list(ctx, r.db, `WHERE team_id = $1`, "", teamID)
}

func (r *PostgresRepo) TeamIDs(ctx context.Context) ([]string, error) {
	return r.strings(ctx, `SELECT DISTINCT team_id FROM queued_calls ORDER BY team_id`)
}

func (r *PostgresRepo) Remove(ctx context.Context, commID string) (QueuedCall, bool, error) {
	return r.remove(ctx, commID, false)
}

func (r *PostgresRepo) RemoveUnlessLocked(ctx context.Context, commID string) (QueuedCall, bool, error) {
	return r.remove(ctx, commID, true)
}

// remove reads the call with its legs and deletes it in one transaction; the row lock
// makes concurrent removals agree on a single winner.
func (r *PostgresRepo) remove(ctx context.Context, commID string, unlessLocked bool) (QueuedCall, bool, error) {
	var (
		out     QueuedCall
		removed bool
	)
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		q, err := r.one(ctx, tx, `WHERE comm_id = $1`, `FOR UPDATE`, commID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out = q
		if unlessLocked && q.Locked {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM queued_calls WHERE comm_id = $1`, commID); err != nil {
			return err
		}
		removed = true
		return nil
	})
	if err != nil {
		return QueuedCall{}, false, fmt.Errorf("callqueue: remove %s: %w", commID, err)
	}
	return out, removed, nil
}

func (r *PostgresRepo) Lock(ctx context.Context, commID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE queued_calls SET locked = true WHERE comm_id = $1 AND locked = false`, commID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *PostgresRepo) Unlock(ctx context.Context, commID, declinedBy string) (QueuedCall, error) {
	var out QueuedCall
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE queued_calls
SET locked = false,
    declined_by = CASE
      WHEN $2 = '' OR declined_by ? $2 THEN declined_by
      ELSE declined_by || to_jsonb($2::text)
    END
WHERE comm_id = $1`, commID, declinedBy)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		out, err = r.one(ctx, tx, `WHERE comm_id = $1`, "", commID)
		return err
	})
	return out, err
}

func (r *PostgresRepo) AddDecliner(ctx context.Context, commID, agentID string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE queued_calls SET declined_by = declined_by || to_jsonb($2::text)
WHERE comm_id = $1 AND NOT declined_by ? $2`, commID, agentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.Get(ctx, commID); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRepo) AddFiredLeg(ctx context.Context, commID, agentID, legID string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO queued_call_legs (leg_id, comm_id, agent_id, fired_at)
SELECT $3, comm_id, $2, now() FROM queued_calls WHERE comm_id = $1
ON CONFLICT (leg_id) DO NOTHING`, commID, agentID, legID)
	return err
}

func (r *PostgresRepo) RemoveFiredLeg(ctx context.Context, commID, legID string) (QueuedCall, error) {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM queued_call_legs WHERE comm_id = $1 AND leg_id = $2`, commID, legID); err != nil {
		return QueuedCall{}, err
	}
	return r.Get(ctx, commID)
}

func (r *PostgresRepo) RemoveAgentLegs(ctx context.Context, commID, agentID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `DELETE FROM queued_call_legs WHERE comm_id = $1 AND agent_id = $2 RETURNING leg_id`, commID, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) LegsForAgent(ctx context.Context, agentID string) ([]string, error) {
	return r.strings(ctx, `SELECT leg_id FROM queued_call_legs WHERE agent_id = $1 ORDER BY leg_id`, agentID)
}

func (r *PostgresRepo) BookedAgentIDs(ctx context.Context) ([]string, error) {
	return r.strings(ctx, `SELECT DISTINCT agent_id FROM queued_call_legs ORDER BY agent_id`)
}

func (r *PostgresRepo) strings(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
