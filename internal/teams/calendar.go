package teams

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"
)

// dayBounds returns local midnight of day and the midnight after it.
func dayBounds(day time.Time) (time.Time, time.Time) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return start, start.AddDate(0, 0, 1)
}

// PostgresCalendar reads the events synced from each team's external calendar:
//
//	team_calendar_events (id, team_id, external_calendar_id, starts_at, ends_at, cancelled)
type PostgresCalendar struct {
	db *sql.DB
}

func NewPostgresCalendar(db *sql.DB) *PostgresCalendar { return &PostgresCalendar{db: db} }

// EventsForDay lists the team's events overlapping the local day of day, earliest first.
func (c *PostgresCalendar) EventsForDay(ctx context.Context, team Team, day time.Time) ([]CalendarEvent, error) {
	from, to := dayBounds(day)
	const q = `
SELECT starts_at, ends_at
FROM team_calendar_events
WHERE team_id = $1
  AND external_calendar_id = $2
  AND NOT cancelled
  AND starts_at < $4
  AND ends_at > $3
ORDER BY starts_at`
	rows, err := c.db.QueryContext(ctx, q, team.ID, team.Calendar.ExternalID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CalendarEvent
	for rows.Next() {
		var e CalendarEvent
		if err := rows.Scan(&e.Start, &e.End); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MemoryCalendar is an in-memory Calendar keyed by external calendar id.
type MemoryCalendar struct {
	mu     sync.Mutex
	events map[string][]CalendarEvent
}

func NewMemoryCalendar() *MemoryCalendar {
	return &MemoryCalendar{events: map[string][]CalendarEvent{}}
}

func (c *MemoryCalendar) Add(externalID string, e CalendarEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[externalID] = append(c.events[externalID], e)
}

func (c *MemoryCalendar) EventsForDay(ctx context.Context, team Team, day time.Time) ([]CalendarEvent, error) {
	from, to := dayBounds(day)
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []CalendarEvent
	for _, e := range c.events[team.Calendar.ExternalID] {
		if e.Start.Before(to) && e.End.After(from) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}
