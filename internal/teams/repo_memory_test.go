package teams

import (
	"context"
	"testing"
)

func TestMemoryRepo_NextRoundRobinCyclesInIDOrder(t *testing.T) {
	repo := NewMemoryRepo()
	repo.PutTeam(Team{ID: "t1"})
	ctx := context.Background()

	candidates := []string{"u3", "u1", "u2"}
	want := []string{"u1", "u2", "u3", "u1"}
	for i, w := range want {
		got, err := repo.NextRoundRobin(ctx, "t1", candidates)
		if err != nil {
			t.Fatalf("pick %d: %v", i, err)
		}
		if got != w {
			t.Fatalf("pick %d: expected %s got %s", i, w, got)
		}
	}
}

func TestMemoryRepo_NextRoundRobinSkipsMissingCursor(t *testing.T) {
	repo := NewMemoryRepo()
	repo.PutTeam(Team{ID: "t1", RoundRobinCursor: "u2"})

	got, err := repo.NextRoundRobin(context.Background(), "t1", []string{"u1", "u4"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got != "u4" {
		t.Fatalf("expected u4, got %s", got)
	}
	if _, err := repo.NextRoundRobin(context.Background(), "nope", []string{"u1"}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryRepo_ResolveDialedNumber(t *testing.T) {
	repo := NewMemoryRepo()
	repo.PutProgram(Program{ID: "p1", TeamID: "t1", PhoneNumber: "+15550001"})
	repo.PutMember(Member{ID: "m1", TeamID: "t1", UserID: "u1", DirectPhone: "+15550002"})
	repo.PutMember(Member{ID: "m2", TeamID: "t1", UserID: "u2", DirectPhone: "+15550003", Inactive: true})
	ctx := context.Background()

	if got, _ := repo.ResolveDialedNumber(ctx, "+15550001"); got.Kind != DialedProgram || got.ID != "p1" {
		t.Fatalf("unexpected program target %+v", got)
	}
	if got, _ := repo.ResolveDialedNumber(ctx, "+15550002"); got.Kind != DialedTeamMember || got.ID != "m1" {
		t.Fatalf("unexpected member target %+v", got)
	}
	if _, err := repo.ResolveDialedNumber(ctx, "+15550003"); err != ErrNotFound {
		t.Fatalf("expected inactive member to be ignored, got %v", err)
	}
}

func TestMemoryRepo_TeamIDsForAgentsIsDistinct(t *testing.T) {
	repo := NewMemoryRepo()
	repo.PutMember(Member{ID: "m1", TeamID: "t2", UserID: "u1"})
	repo.PutMember(Member{ID: "m2", TeamID: "t1", UserID: "u1"})
	repo.PutMember(Member{ID: "m3", TeamID: "t1", UserID: "u2"})

	ids, err := repo.TeamIDsForAgents(context.Background(), []string{"u1", "u2"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(ids) != 2 || ids[0] != "t1" || ids[1] != "t2" {
		t.Fatalf("unexpected ids %v", ids)
	}
}
