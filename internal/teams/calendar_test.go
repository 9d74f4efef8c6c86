package teams

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCalendar_EventsForLocalDay(t *testing.T) {
	cal := NewMemoryCalendar()
	loc, _ := time.LoadLocation("America/New_York")
	team := mondayNineToFive("America/New_York")
	team.Calendar = CalendarLink{Enabled: true, ExternalID: "cal-1"}

	lunch := CalendarEvent{Start: time.Date(2024, 3, 4, 12, 0, 0, 0, loc), End: time.Date(2024, 3, 4, 13, 0, 0, 0, loc)}
	early := CalendarEvent{Start: time.Date(2024, 3, 4, 7, 0, 0, 0, loc), End: time.Date(2024, 3, 4, 8, 0, 0, 0, loc)}
	nextDay := CalendarEvent{Start: time.Date(2024, 3, 5, 10, 0, 0, 0, loc), End: time.Date(2024, 3, 5, 11, 0, 0, 0, loc)}
	cal.Add("cal-1", lunch)
	cal.Add("cal-1", nextDay)
	cal.Add("cal-1", early)
	cal.Add("cal-2", CalendarEvent{Start: lunch.Start, End: lunch.End})

	events, err := cal.EventsForDay(context.Background(), team, time.Date(2024, 3, 4, 15, 0, 0, 0, loc))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(events) != 2 || !events[0].Start.Equal(early.Start) || !events[1].Start.Equal(lunch.Start) {
		t.Fatalf("expected the two monday events in order, got %+v", events)
	}
}

func TestHoursGate_MemoryCalendarClosesTeam(t *testing.T) {
	cal := NewMemoryCalendar()
	loc, _ := time.LoadLocation("America/New_York")
	team := mondayNineToFive("America/New_York")
	team.Calendar = CalendarLink{Enabled: true, ExternalID: "cal-1"}
	cal.Add("cal-1", CalendarEvent{Start: time.Date(2024, 3, 4, 12, 0, 0, 0, loc), End: time.Date(2024, 3, 4, 13, 0, 0, 0, loc)})
	gate := NewHoursGate(cal, nil)
	ctx := context.Background()

	if gate.IsOpenAt(ctx, team, time.Date(2024, 3, 4, 12, 30, 0, 0, loc)) {
		t.Fatalf("expected closed during the calendar event")
	}
	if !gate.IsOpenAt(ctx, team, time.Date(2024, 3, 4, 13, 0, 0, 0, loc)) {
		t.Fatalf("expected open once the event ends")
	}

	team.Calendar.Enabled = false
	if !gate.IsOpenAt(ctx, team, time.Date(2024, 3, 4, 12, 30, 0, 0, loc)) {
		t.Fatalf("expected static hours when the calendar is off")
	}
}
