package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"leasing-telephony/internal/calls"
	"leasing-telephony/internal/routing"
	"leasing-telephony/internal/teams"
)

func TestService_AppendRequiresType(t *testing.T) {
	svc := NewService(NewMemoryRepo())

	if err := svc.Append(context.Background(), Event{UserID: "u1"}); err == nil {
		t.Fatalf("expected error")
	}
	if err := svc.RecordStatusChange(context.Background(), "", "busy", "available", false, time.Now()); err == nil {
		t.Fatalf("expected error for missing agent")
	}
}

func TestService_RecordsStatusChanges(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	if err := svc.RecordStatusChange(context.Background(), "u1", "busy", "available", true, at); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.ByType(EventTypeStatusChange)
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	if evs[0].UserID != "u1" || !evs[0].CreatedAt.Equal(at) || evs[0].ID == "" {
		t.Fatalf("unexpected event %+v", evs[0])
	}
	if !strings.Contains(evs[0].Metadata, `"manual":true`) {
		t.Fatalf("expected manual flag in metadata, got %s", evs[0].Metadata)
	}
}

func TestOutcomeTrail_AuditsRecordedOutcomes(t *testing.T) {
	repo := NewMemoryRepo()
	comms := calls.NewMemoryRepo()
	comms.Put(calls.Communication{ID: "c1", ExternalCallID: "CA1", TeamID: "t1"})
	trail := TrackOutcomes(comms, NewService(repo), nil)

	if _, err := trail.RecordOutcome(context.Background(), "c1", calls.OutcomeMissed, calls.MissedAfterHours); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, err := trail.RecordOutcome(context.Background(), "missing", calls.OutcomeMissed, calls.MissedAfterHours); err == nil {
		t.Fatalf("expected not found")
	}

	evs := repo.ByType(EventTypeCallOutcome)
	if len(evs) != 1 || evs[0].CommID != "c1" || evs[0].TeamID != "t1" || evs[0].Message != "missed" {
		t.Fatalf("unexpected outcome events %+v", evs)
	}
}

func TestService_LogsForwardedCalls(t *testing.T) {
	repo := NewMemoryRepo()
	fwd := routing.NewForwarder(NewService(repo))
	target := routing.Target{
		Call:    calls.InboundCall{ExternalCallID: "CA1", From: "+15551234567", To: "+15551110000"},
		Team:    teams.Team{ID: "t1"},
		Program: &teams.Program{ID: "p1", ForwardingNumber: "+15557770000"},
	}

	if _, ok := fwd.Decide(routing.WithClientIP(context.Background(), "10.0.0.9"), target); !ok {
		t.Fatalf("expected forwarding")
	}
	evs := repo.ByType(EventTypeCallForwarded)
	if len(evs) != 1 || evs[0].IPAddress != "10.0.0.9" || evs[0].ExternalCallID != "CA1" {
		t.Fatalf("unexpected forwarding events %+v", evs)
	}
}
