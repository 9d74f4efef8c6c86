package teams

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"leasing-telephony/pkg/utils"
)

// PostgresRepo assumes the following tables:
//   - teams (id, name, time_zone, strategy, call_center_phone, settings jsonb,
//     office_hours jsonb, round_robin_cursor, inactive, updated_at)
//   - team_members (id, team_id, user_id, roles jsonb, direct_phone, inactive)
//   - programs (id, name, team_id, property_id, phone_number, forwarding_number)
//
// settings holds {"call_queue": ..., "call_settings": ..., "calendar": ...}.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

type teamSettings struct {
	CallQueue    QueueSettings `json:"call_queue"`
	CallSettings CallSettings  `json:"call_settings"`
	Calendar     CalendarLink  `json:"calendar"`
}

const teamColumns = `id, name, time_zone, strategy, call_center_phone, settings, office_hours, round_robin_cursor, inactive, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTeam(row rowScanner) (Team, error) {
	var (
		t        Team
		settings []byte
		hours    []byte
		cursor   sql.NullString
		ccPhone  sql.NullString
	)
	if err := row.Scan(&t.ID, &t.Name, &t.TimeZone, &t.Strategy, &ccPhone, &settings, &hours, &cursor, &t.Inactive, &t.UpdatedAt); err != nil {
		return Team{}, err
	}
	t.CallCenterPhone = ccPhone.String
	t.RoundRobinCursor = cursor.String
	if len(settings) > 0 {
		var s teamSettings
		if err := json.Unmarshal(settings, &s); err != nil {
			return Team{}, fmt.Errorf("teams: decode settings for %s: %w", t.ID, err)
		}
		t.CallQueue, t.CallSettings, t.Calendar = s.CallQueue, s.CallSettings, s.Calendar
	}
	if len(hours) > 0 {
		if err := json.Unmarshal(hours, &t.OfficeHours); err != nil {
			return Team{}, fmt.Errorf("teams: decode office hours for %s: %w", t.ID, err)
		}
	}
	return t, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Team, error) {
	t, err := scanTeam(r.db.QueryRowContext(ctx, `SELECT `+teamColumns+` FROM teams WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Team{}, ErrNotFound
	}
	return t, err
}

func (r *PostgresRepo) ListAll(ctx context.Context) ([]Team, error) {
	return r.queryTeams(ctx, `SELECT `+teamColumns+` FROM teams WHERE inactive = false ORDER BY id`)
}

func (r *PostgresRepo) ListForAgent(ctx context.Context, userID string) ([]Team, error) {
	const q = `
SELECT t.id, t.name, t.time_zone, t.strategy, t.call_center_phone, t.settings, t.office_hours, t.round_robin_cursor, t.inactive, t.updated_at
FROM teams t
JOIN team_members m ON m.team_id = t.id
WHERE m.user_id = $1 AND m.inactive = false
ORDER BY t.id`
	return r.queryTeams(ctx, q, userID)
}

func (r *PostgresRepo) queryTeams(ctx context.Context, q string, args ...any) ([]Team, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const memberColumns = `id, team_id, user_id, roles, direct_phone, inactive`

func scanMember(row rowScanner) (Member, error) {
	var (
		m     Member
		roles []byte
		phone sql.NullString
	)
	if err := row.Scan(&m.ID, &m.TeamID, &m.UserID, &roles, &phone, &m.Inactive); err != nil {
		return Member{}, err
	}
	m.DirectPhone = phone.String
	if len(roles) > 0 {
		if err := json.Unmarshal(roles, &m.Roles); err != nil {
			return Member{}, fmt.Errorf("teams: decode roles for member %s: %w", m.ID, err)
		}
	}
	return m, nil
}

func (r *PostgresRepo) queryMembers(ctx context.Context, q string, args ...any) ([]Member, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Members(ctx context.Context, teamID string) ([]Member, error) {
	return r.queryMembers(ctx, `SELECT `+memberColumns+` FROM team_members WHERE team_id = $1 AND inactive = false ORDER BY user_id`, teamID)
}

func (r *PostgresRepo) MembershipsForAgent(ctx context.Context, userID string) ([]Member, error) {
	return r.queryMembers(ctx, `SELECT `+memberColumns+` FROM team_members WHERE user_id = $1 AND inactive = false ORDER BY team_id`, userID)
}

func (r *PostgresRepo) GetMember(ctx context.Context, memberID string) (Member, error) {
	m, err := scanMember(r.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM team_members WHERE id = $1`, memberID))
	if errors.Is(err, sql.ErrNoRows) {
		return Member{}, ErrNotFound
	}
	return m, err
}

func (r *PostgresRepo) MemberIDs(ctx context.Context, teamID string) ([]string, error) {
	return r.queryStrings(ctx, `SELECT user_id FROM team_members WHERE team_id = $1 AND inactive = false ORDER BY user_id`, teamID)
}

func (r *PostgresRepo) TeamIDsForAgents(ctx context.Context, userIDs []string) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	const q = `
SELECT DISTINCT team_id
FROM team_members
WHERE inactive = false AND user_id = ANY($1::text[])
ORDER BY team_id`
	return r.queryStrings(ctx, q, userIDs)
}

func (r *PostgresRepo) queryStrings(ctx context.Context, q string, args ...any) ([]string, error) {
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

func (r *PostgresRepo) GetProgram(ctx context.Context, id string) (Program, error) {
	const q = `
SELECT id, name, team_id, COALESCE(property_id, ''), phone_number, COALESCE(forwarding_number, '')
FROM programs
WHERE id = $1`
	var p Program
	err := r.db.QueryRowContext(ctx, q, id).Scan(&p.ID, &p.Name, &p.TeamID, &p.PropertyID, &p.PhoneNumber, &p.ForwardingNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return Program{}, ErrNotFound
	}
	return p, err
}

func (r *PostgresRepo) ResolveDialedNumber(ctx context.Context, number string) (DialedTarget, error) {
	const q = `
SELECT 'program', id FROM programs WHERE phone_number = $1
UNION ALL
SELECT 'team_member', id FROM team_members WHERE direct_phone = $1 AND inactive = false
LIMIT 1`
	var kind, id string
	err := r.db.QueryRowContext(ctx, q, number).Scan(&kind, &id)
	if errors.Is(err, sql.ErrNoRows) {
		return DialedTarget{}, ErrNotFound
	}
	if err != nil {
		return DialedTarget{}, err
	}
	return DialedTarget{Kind: DialedKind(kind), ID: id}, nil
}

func (r *PostgresRepo) NextRoundRobin(ctx context.Context, teamID string, candidates []string) (string, error) {
	var next string
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		var cursor sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT round_robin_cursor FROM teams WHERE id = $1 FOR UPDATE`, teamID).Scan(&cursor)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		next = nextAfter(cursor.String, candidates)
		if next == "" {
			return nil
		}
		_, err = tx.ExecContext(ctx, `UPDATE teams SET round_robin_cursor = $2, updated_at = now() WHERE id = $1`, teamID, next)
		return err
	})
	if err != nil {
		return "", err
	}
	return next, nil
}
