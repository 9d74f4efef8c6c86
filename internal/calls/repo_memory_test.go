package calls

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"
)

func TestMarkAnsweredFirstWins(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	c, _ := repo.Create(ctx, Communication{ExternalCallID: "CA1", Direction: DirectionInbound})

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_, won, err := repo.MarkAnswered(ctx, c.ID, userID)
			if err != nil {
				t.Errorf("mark answered: %v", err)
				return
			}
			if won {
				mu.Lock()
				winners = append(winners, userID)
				mu.Unlock()
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %v", winners)
	}
	got, _ := repo.Get(ctx, c.ID)
	if !got.Answered || got.UserID != winners[0] || got.Outcome != OutcomeAnswered {
		t.Fatalf("unexpected stored communication: %+v", got)
	}
}

func TestRecordOutcomeKeepsAnswer(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	c, _ := repo.Create(ctx, Communication{ExternalCallID: "CA1"})
	if _, _, err := repo.MarkAnswered(ctx, c.ID, "u1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	got, err := repo.RecordOutcome(ctx, c.ID, OutcomeMissed, MissedNoAnswer)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.Outcome != OutcomeAnswered {
		t.Fatalf("expected answered outcome to stick, got %q", got.Outcome)
	}
}

func TestFindByExternalCallScopesByTransfer(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	first, _ := repo.Create(ctx, Communication{ExternalCallID: "CA1"})
	second, _ := repo.Create(ctx, Communication{ExternalCallID: "CA1", TransferredFromCommID: first.ID})

	got, err := repo.FindByExternalCall(ctx, "CA1", "")
	if err != nil || got.ID != first.ID {
		t.Fatalf("expected first communication, got %+v %v", got, err)
	}
	got, err = repo.FindByExternalCall(ctx, "CA1", first.ID)
	if err != nil || got.ID != second.ID {
		t.Fatalf("expected transferred communication, got %+v %v", got, err)
	}
	if _, err := repo.FindByExternalCall(ctx, "CA2", ""); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEndpointHangupTracking(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	c, _ := repo.Create(ctx, Communication{ExternalCallID: "CA1"})
	_ = repo.SetReceivers(ctx, c.ID, map[string][]string{"u1": {"alice-desk", "alice-app"}, "u2": {"bob"}})

	got, _ := repo.MarkEndpointHungUp(ctx, c.ID, "alice-desk")
	if got.AllHungUp("u1") {
		t.Fatalf("one endpoint still ringing")
	}
	got, _ = repo.MarkEndpointHungUp(ctx, c.ID, "alice-app")
	got, _ = repo.MarkEndpointHungUp(ctx, c.ID, "alice-app")
	if !got.AllHungUp("u1") || got.AllHungUp("u2") {
		t.Fatalf("unexpected hang up state: %+v", got.HungUpEndpoints)
	}
	if len(got.HungUpEndpoints) != 2 {
		t.Fatalf("expected hung up endpoints deduplicated, got %v", got.HungUpEndpoints)
	}
	if id, ok := got.ReceiverFor("bob"); !ok || id != "u2" {
		t.Fatalf("expected bob to belong to u2")
	}
}

func TestOpenForAgentSkipsEnded(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	a, _ := repo.Create(ctx, Communication{ExternalCallID: "CA1", UserID: "u1"})
	b, _ := repo.Create(ctx, Communication{ExternalCallID: "CA2", Receivers: map[string][]string{"u1": {"x"}}})
	_ = repo.MarkEnded(ctx, a.ID, time.Now())

	open, _ := repo.OpenForAgent(ctx, "u1")
	if len(open) != 1 || open[0].ID != b.ID {
		t.Fatalf("expected only the open communication, got %+v", open)
	}
}

func TestTransferParamsCarryRedialContext(t *testing.T) {
	in := InboundCall{
		Target:                TargetTeam,
		TargetID:              "team-1",
		TransferredFromUserID: "u9",
		TransferTargetType:    TransferToTeam,
		RedialAttemptNo:       2,
		RedialForCommID:       "comm-1",
		IsLeadCreated:         true,
	}
	q, err := url.ParseQuery(in.TransferParams().Encode())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	var out InboundCall
	out.ApplyTransferParams(q)
	if out != in {
		t.Fatalf("expected %+v, got %+v", in, out)
	}
	if !out.IsTransfer() {
		t.Fatalf("expected transfer")
	}
}
