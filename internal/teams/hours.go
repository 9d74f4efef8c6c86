package teams

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"leasing-telephony/pkg/logger"
)

// Window is an open interval of the day in minutes from local midnight: [Start, End).
type Window struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// OfficeHours maps weekdays to open windows. A missing weekday is closed all day.
type OfficeHours map[time.Weekday]Window

// Covers reports whether local time t falls inside the window of its weekday.
func (h OfficeHours) Covers(t time.Time) bool {
	w, ok := h[t.Weekday()]
	if !ok {
		return false
	}
	minute := t.Hour()*60 + t.Minute()
	return minute >= w.Start && minute < w.End
}

// MarshalJSON encodes weekdays by lowercase name.
func (h OfficeHours) MarshalJSON() ([]byte, error) {
	out := make(map[string]Window, len(h))
	for d, w := range h {
		out[strings.ToLower(d.String())] = w
	}
	return json.Marshal(out)
}

func (h *OfficeHours) UnmarshalJSON(b []byte) error {
	var raw map[string]Window
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(OfficeHours, len(raw))
	for name, w := range raw {
		d, ok := weekdayByName[strings.ToLower(name)]
		if !ok {
			return fmt.Errorf("teams: unknown weekday %q", name)
		}
		out[d] = w
	}
	*h = out
	return nil
}

var weekdayByName = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Location resolves the team's timezone. An unset zone is UTC; an unknown one is an
// error wrapping ErrInvalidArgument, returned together with UTC.
func (t Team) Location() (*time.Location, error) {
	if t.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(t.TimeZone)
	if err != nil {
		return time.UTC, fmt.Errorf("%w: time zone %q of team %s: %v", ErrInvalidArgument, t.TimeZone, t.ID, err)
	}
	return loc, nil
}

// CalendarEvent is a busy block on a team's external calendar.
type CalendarEvent struct {
	Start time.Time
	End   time.Time
}

// Calendar reads a team's external calendar.
type Calendar interface {
	EventsForDay(ctx context.Context, team Team, day time.Time) ([]CalendarEvent, error)
}

// HoursGate decides whether a team is open. An external calendar event overlapping the
// moment closes the team even inside its static office hours.
type HoursGate struct {
	Calendar Calendar
	Now      func() time.Time
	Log      *slog.Logger
}

func NewHoursGate(cal Calendar, log *slog.Logger) *HoursGate {
	return &HoursGate{Calendar: cal, Now: time.Now, Log: logger.OrDiscard(log)}
}

// IsOpen reports whether the team takes calls right now.
func (g *HoursGate) IsOpen(ctx context.Context, team Team) bool {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	return g.IsOpenAt(ctx, team, now())
}

// IsOpenAt reports whether the team takes calls at the given instant.
func (g *HoursGate) IsOpenAt(ctx context.Context, team Team, at time.Time) bool {
	loc, err := team.Location()
	if err != nil {
		logger.OrDiscard(g.Log).Warn("unknown team time zone, office hours read in UTC", "team_id", team.ID, "time_zone", team.TimeZone, "err", err)
	}
	local := at.In(loc)
	if !team.OfficeHours.Covers(local) {
		return false
	}
	if !team.Calendar.Enabled || g.Calendar == nil {
		return true
	}

	events, err := g.Calendar.EventsForDay(ctx, team, local)
	if err != nil {
		logger.OrDiscard(g.Log).Warn("calendar lookup failed, using static office hours", "team_id", team.ID, "err", err)
		return true
	}
	for _, e := range events {
		if !at.Before(e.Start) && at.Before(e.End) {
			return false
		}
	}
	return true
}
