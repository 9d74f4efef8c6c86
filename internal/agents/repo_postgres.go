package agents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"leasing-telephony/pkg/utils"
)

// PostgresRepo stores agents in:
//
//	agents (id, full_name, status, status_updated_at, not_available_set_at,
//	        wrap_up_timer_id, login_timer_id, sip_endpoints jsonb, ring_phones jsonb, inactive)
//
// Mutations lock the affected rows with SELECT ... FOR UPDATE so concurrent transitions
// for the same agent serialize.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const agentColumns = `id, full_name, status, status_updated_at, not_available_set_at, wrap_up_timer_id, login_timer_id, sip_endpoints, ring_phones, inactive`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (Agent, error) {
	var (
		a         Agent
		naSetAt   sql.NullTime
		wrapUp    sql.NullString
		login     sql.NullString
		endpoints []byte
		phones    []byte
	)
	if err := row.Scan(&a.ID, &a.FullName, &a.Status, &a.StatusUpdatedAt, &naSetAt, &wrapUp, &login, &endpoints, &phones, &a.Inactive); err != nil {
		return Agent{}, err
	}
	if naSetAt.Valid {
		ts := naSetAt.Time
		a.NotAvailableSetAt = &ts
	}
	a.WrapUpTimerID = wrapUp.String
	a.LoginTimerID = login.String
	if len(endpoints) > 0 {
		if err := json.Unmarshal(endpoints, &a.SipEndpoints); err != nil {
			return Agent{}, fmt.Errorf("agents: decode sip endpoints for %s: %w", a.ID, err)
		}
	}
	if len(phones) > 0 {
		if err := json.Unmarshal(phones, &a.RingPhones); err != nil {
			return Agent{}, fmt.Errorf("agents: decode ring phones for %s: %w", a.ID, err)
		}
	}
	return a, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Agent, error) {
	a, err := scanAgent(r.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Agent{}, ErrNotFound
	}
	return a, err
}

func (r *PostgresRepo) GetMany(ctx context.Context, ids []string) ([]Agent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ANY($1::text[])`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]Agent, len(ids))
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		byID[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Agent, 0, len(byID))
	for _, id := range ids {
		if a, ok := byID[id]; ok {
			out = append(out, a)
			delete(byID, id)
		}
	}
	return out, nil
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, ids []string, status Status, manual bool, at time.Time) ([]StatusChange, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []StatusChange
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		locked, err := lockAgents(ctx, tx, `WHERE id = ANY($1::text[]) AND status <> $2 ORDER BY id`, ids, string(status))
		if err != nil {
			return err
		}
		for _, a := range locked {
			if a.blocksAutomatic(status, manual) {
				continue
			}
			from := a.Status
			a.applyStatus(status, manual, at)
			if err := writeAgentState(ctx, tx, a); err != nil {
				return err
			}
			out = append(out, StatusChange{Agent: a, From: from})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresRepo) UpdateStatusFrom(ctx context.Context, ids []string, from, status Status, at time.Time) ([]StatusChange, error) {
	if len(ids) == 0 || from == status {
		return nil, nil
	}
	var out []StatusChange
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		locked, err := lockAgents(ctx, tx, `WHERE id = ANY($1::text[]) AND status = $2 ORDER BY id`, ids, string(from))
		if err != nil {
			return err
		}
		for _, a := range locked {
			a.applyStatus(status, false, at)
			if err := writeAgentState(ctx, tx, a); err != nil {
				return err
			}
			out = append(out, StatusChange{Agent: a, From: from})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orderChanges(out, ids), nil
}

func (r *PostgresRepo) Reconcile(ctx context.Context, id string, at time.Time) (StatusChange, bool, error) {
	var (
		out     StatusChange
		changed bool
	)
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		locked, err := lockAgents(ctx, tx, `WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if len(locked) == 0 {
			return ErrNotFound
		}
		a := locked[0]
		out = StatusChange{Agent: a, From: a.Status}
		target := a.ResolvedStatus()
		if a.Status == target {
			return nil
		}
		a.applyStatus(target, false, at)
		if err := writeAgentState(ctx, tx, a); err != nil {
			return err
		}
		out.Agent = a
		changed = true
		return nil
	})
	return out, changed, err
}

// orderChanges puts changes back in the order ids were requested.
func orderChanges(changes []StatusChange, ids []string) []StatusChange {
	byID := make(map[string]StatusChange, len(changes))
	for _, c := range changes {
		byID[c.Agent.ID] = c
	}
	out := make([]StatusChange, 0, len(changes))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
			delete(byID, id)
		}
	}
	return out
}

func (r *PostgresRepo) SetTimer(ctx context.Context, id string, kind TimerKind, timerID string) (Agent, error) {
	column, err := timerColumn(kind)
	if err != nil {
		return Agent{}, err
	}
	q := `UPDATE agents SET ` + column + ` = $2 WHERE id = $1 RETURNING ` + agentColumns
	a, err := scanAgent(r.db.QueryRowContext(ctx, q, id, timerID))
	if errors.Is(err, sql.ErrNoRows) {
		return Agent{}, ErrNotFound
	}
	return a, err
}

func (r *PostgresRepo) ResolveTimer(ctx context.Context, id string, kind TimerKind, timerID string, at time.Time) (TimerOutcome, error) {
	if _, err := timerColumn(kind); err != nil {
		return TimerOutcome{}, err
	}
	var out TimerOutcome
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		locked, err := lockAgents(ctx, tx, `WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if len(locked) == 0 {
			return ErrNotFound
		}
		a := locked[0]
		if timerID == "" || a.TimerID(kind) != timerID {
			out = TimerOutcome{Agent: a}
			return nil
		}

		from := a.Status
		switch kind {
		case TimerWrapUp:
			a.WrapUpTimerID = ""
		case TimerLogin:
			a.LoginTimerID = ""
		}
		target := a.ResolvedStatus()
		changed := a.Status != target
		if changed {
			a.applyStatus(target, false, at)
		}
		if err := writeAgentState(ctx, tx, a); err != nil {
			return err
		}
		out = TimerOutcome{Agent: a, Matched: true, Changed: changed, From: from}
		return nil
	})
	return out, err
}

func lockAgents(ctx context.Context, tx *sql.Tx, where string, args ...any) ([]Agent, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents `+where+` FOR UPDATE`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func writeAgentState(ctx context.Context, tx *sql.Tx, a Agent) error {
	const q = `
UPDATE agents
SET status = $2,
    status_updated_at = $3,
    not_available_set_at = $4,
    wrap_up_timer_id = NULLIF($5, ''),
    login_timer_id = NULLIF($6, '')
WHERE id = $1`
	var naSetAt sql.NullTime
	if a.NotAvailableSetAt != nil {
		naSetAt = sql.NullTime{Time: *a.NotAvailableSetAt, Valid: true}
	}
	_, err := tx.ExecContext(ctx, q, a.ID, string(a.Status), a.StatusUpdatedAt, naSetAt, a.WrapUpTimerID, a.LoginTimerID)
	return err
}

func timerColumn(kind TimerKind) (string, error) {
	switch kind {
	case TimerWrapUp:
		return "wrap_up_timer_id", nil
	case TimerLogin:
		return "login_timer_id", nil
	}
	return "", fmt.Errorf("agents: unknown timer kind %q", kind)
}
