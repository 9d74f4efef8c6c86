package teams

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type stubCalendar struct {
	events []CalendarEvent
	err    error
	calls  int
}

func (c *stubCalendar) EventsForDay(ctx context.Context, team Team, day time.Time) ([]CalendarEvent, error) {
	c.calls++
	return c.events, c.err
}

func mondayNineToFive(tz string) Team {
	return Team{
		ID:       "t1",
		TimeZone: tz,
		OfficeHours: OfficeHours{
			time.Monday: {Start: 540, End: 1020},
		},
	}
}

func TestHoursGate_MondayOpeningBoundaryInTeamTimezone(t *testing.T) {
	team := mondayNineToFive("America/New_York")
	loc, _ := team.Location()
	gate := NewHoursGate(nil, nil)

	// 2024-03-04 is a Monday.
	before := time.Date(2024, 3, 4, 8, 59, 0, 0, loc)
	open := time.Date(2024, 3, 4, 9, 0, 0, 0, loc)

	if gate.IsOpenAt(context.Background(), team, before) {
		t.Fatalf("expected closed at 08:59 local")
	}
	if !gate.IsOpenAt(context.Background(), team, open) {
		t.Fatalf("expected open at 09:00 local")
	}
	// Same instant expressed in UTC must give the same answer.
	if !gate.IsOpenAt(context.Background(), team, open.UTC()) {
		t.Fatalf("expected open when instant is given in UTC")
	}
}

func TestHoursGate_ClosingMinuteIsExclusive(t *testing.T) {
	team := mondayNineToFive("Europe/Berlin")
	loc, _ := team.Location()
	gate := NewHoursGate(nil, nil)

	if !gate.IsOpenAt(context.Background(), team, time.Date(2024, 3, 4, 16, 59, 0, 0, loc)) {
		t.Fatalf("expected open at 16:59")
	}
	if gate.IsOpenAt(context.Background(), team, time.Date(2024, 3, 4, 17, 0, 0, 0, loc)) {
		t.Fatalf("expected closed at 17:00")
	}
}

func TestHoursGate_MissingDayIsClosed(t *testing.T) {
	team := mondayNineToFive("UTC")
	gate := NewHoursGate(nil, nil)

	tuesdayNoon := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	if gate.IsOpenAt(context.Background(), team, tuesdayNoon) {
		t.Fatalf("expected closed on a day without hours")
	}
}

func TestHoursGate_CalendarEventClosesTeam(t *testing.T) {
	team := mondayNineToFive("UTC")
	team.Calendar = CalendarLink{Enabled: true, ExternalID: "cal"}
	at := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

	cal := &stubCalendar{events: []CalendarEvent{{Start: at.Add(-time.Hour), End: at.Add(time.Hour)}}}
	gate := NewHoursGate(cal, nil)
	if gate.IsOpenAt(context.Background(), team, at) {
		t.Fatalf("expected calendar event to close the team")
	}

	cal.events = []CalendarEvent{{Start: at.Add(time.Hour), End: at.Add(2 * time.Hour)}}
	if !gate.IsOpenAt(context.Background(), team, at) {
		t.Fatalf("expected open when no event overlaps")
	}
}

func TestHoursGate_CalendarFailureFallsBackToStaticHours(t *testing.T) {
	team := mondayNineToFive("UTC")
	team.Calendar = CalendarLink{Enabled: true}
	cal := &stubCalendar{err: errors.New("calendar down")}
	gate := NewHoursGate(cal, nil)

	if !gate.IsOpenAt(context.Background(), team, time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected static hours to apply")
	}
}

func TestHoursGate_CalendarNotConsultedOutsideHours(t *testing.T) {
	team := mondayNineToFive("UTC")
	team.Calendar = CalendarLink{Enabled: true}
	cal := &stubCalendar{}
	gate := NewHoursGate(cal, nil)

	_ = gate.IsOpenAt(context.Background(), team, time.Date(2024, 3, 4, 7, 0, 0, 0, time.UTC))
	if cal.calls != 0 {
		t.Fatalf("expected no calendar lookup, got %d", cal.calls)
	}
}

func TestOfficeHours_JSONUsesWeekdayNames(t *testing.T) {
	in := OfficeHours{time.Monday: {Start: 540, End: 1020}}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"monday":{"start":540,"end":1020}}` {
		t.Fatalf("unexpected json %s", b)
	}

	var out OfficeHours
	if err := json.Unmarshal([]byte(`{"Friday":{"start":600,"end":660}}`), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if w := out[time.Friday]; w.Start != 600 || w.End != 660 {
		t.Fatalf("unexpected window %+v", w)
	}
	if err := json.Unmarshal([]byte(`{"someday":{"start":1,"end":2}}`), &out); err == nil {
		t.Fatalf("expected unknown weekday error")
	}
}

func TestTeam_UnknownLocationIsReportedAndLogged(t *testing.T) {
	loc, err := (Team{ID: "t1", TimeZone: "Not/AZone"}).Location()
	if loc != time.UTC || !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected UTC with invalid argument, got %v (%v)", loc, err)
	}
	if loc, err := (Team{}).Location(); loc != time.UTC || err != nil {
		t.Fatalf("expected unset zone to be UTC, got %v (%v)", loc, err)
	}

	var buf bytes.Buffer
	gate := NewHoursGate(nil, slog.New(slog.NewTextHandler(&buf, nil)))
	team := mondayNineToFive("Not/AZone")
	if !gate.IsOpenAt(context.Background(), team, time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected UTC office hours to apply")
	}
	if !strings.Contains(buf.String(), "unknown team time zone") {
		t.Fatalf("expected a warning, got %q", buf.String())
	}
}
