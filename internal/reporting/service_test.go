package reporting

import (
	"context"
	"testing"
	"time"

	"leasing-telephony/internal/calls"
)

func TestReporting_TeamIsolationAndRange(t *testing.T) {
	repo := calls.NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Put(calls.Communication{ID: "c1", TeamID: "t1", Outcome: calls.OutcomeAnswered, CreatedAt: now})
	repo.Put(calls.Communication{ID: "c2", TeamID: "t2", Outcome: calls.OutcomeAnswered, CreatedAt: now})
	repo.Put(calls.Communication{ID: "c3", TeamID: "t1", Outcome: calls.OutcomeAnswered, CreatedAt: now.Add(-2 * time.Hour)})
	svc := NewService(repo)

	out, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{TeamID: "t1", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 1 {
		t.Fatalf("expected 1 call, got %d", out.TotalCalls)
	}
}

func TestReporting_OutcomeBreakdown(t *testing.T) {
	repo := calls.NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Put(calls.Communication{ID: "c1", TeamID: "t1", Outcome: calls.OutcomeAnswered, FromQueue: true, CreatedAt: now})
	repo.Put(calls.Communication{ID: "c2", TeamID: "t1", Outcome: calls.OutcomeMissed, MissedReason: calls.MissedAfterHours, CreatedAt: now})
	repo.Put(calls.Communication{ID: "c3", TeamID: "t1", Outcome: calls.OutcomeMissed, MissedReason: calls.MissedQueueTimeExpired, FromQueue: true, CreatedAt: now})
	repo.Put(calls.Communication{ID: "c4", TeamID: "t1", Outcome: calls.OutcomeAbandoned, CreatedAt: now})
	repo.Put(calls.Communication{ID: "c5", TeamID: "t1", CreatedAt: now})
	svc := NewService(repo)

	out, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{TeamID: "t1", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.AnsweredCalls != 1 || out.MissedCalls != 2 || out.AbandonedCalls != 1 || out.InProgressCalls != 1 || out.QueuedCalls != 2 {
		t.Fatalf("unexpected summary: %+v", out)
	}
	if out.MissedByReason["after_hours"] != 1 || out.MissedByReason["queue_time_expired"] != 1 {
		t.Fatalf("unexpected missed breakdown: %v", out.MissedByReason)
	}
	if out.AnswerRate != 0.25 {
		t.Fatalf("expected answer rate 0.25, got %v", out.AnswerRate)
	}
}

func TestReporting_RejectsBadRange(t *testing.T) {
	svc := NewService(calls.NewMemoryRepo())
	now := time.Now()
	if _, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{TeamID: "t1", Range: TimeRange{From: now, To: now}}); err != ErrInvalidRequest {
		t.Fatalf("expected invalid request, got %v", err)
	}
}
