package wrapup

import (
	"context"
	"fmt"
	"testing"
	"time"

	"leasing-telephony/internal/agents"
	"leasing-telephony/internal/notify"
	"leasing-telephony/internal/scheduler"
	"leasing-telephony/internal/teams"
)

type fixture struct {
	agents  *agents.MemoryRepo
	teams   *teams.MemoryRepo
	rec     *notify.Recorder
	sched   *scheduler.Deferred
	machine *Machine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		agents: agents.NewMemoryRepo(),
		teams:  teams.NewMemoryRepo(),
		rec:    notify.NewRecorder(),
		sched:  scheduler.NewDeferred(nil),
	}
	store := agents.NewStore(agents.StoreDeps{Repo: f.agents, Members: f.teams, Notifier: f.rec})
	f.machine = New(store, f.teams, f.sched, f.rec, nil)
	n := 0
	f.machine.NewTimerID = func() string {
		n++
		return fmt.Sprintf("timer-%d", n)
	}
	return f
}

func (f *fixture) status(t *testing.T, id string) agents.Status {
	t.Helper()
	a, err := f.agents.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("load agent: %v", err)
	}
	return a.Status
}

func TestStartWrapUp_ResolvesAfterDelay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.teams.PutTeam(teams.Team{ID: "t1", CallSettings: teams.CallSettings{WrapUpDelayAfterCallEnds: 0.1}})
	f.agents.Put(agents.Agent{ID: "u1", Status: agents.StatusBusy})

	if err := f.machine.StartWrapUp(ctx, "u1", "t1"); err != nil {
		t.Fatalf("StartWrapUp: %v", err)
	}
	if got := f.status(t, "u1"); got != agents.StatusBusy {
		t.Fatalf("expected busy during wrap-up, got %s", got)
	}
	if d := f.sched.Delays(); len(d) != 1 || d[0] != 100*time.Millisecond {
		t.Fatalf("expected one 100ms task, got %v", d)
	}
	if msgs := f.rec.ByEvent(notify.EventWrapUpStarted); len(msgs) != 1 || msgs[0].Routing.Users[0] != "u1" {
		t.Fatalf("expected wrap-up notification to u1, got %+v", msgs)
	}

	if failed := f.sched.Flush(ctx); failed != 0 {
		t.Fatalf("expected no failed tasks, got %d", failed)
	}
	if got := f.status(t, "u1"); got != agents.StatusAvailable {
		t.Fatalf("expected available after wrap-up, got %s", got)
	}
}

func TestStartWrapUp_StaleTimerIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.teams.PutTeam(teams.Team{ID: "t1", CallSettings: teams.CallSettings{WrapUpDelayAfterCallEnds: 30}})
	f.agents.Put(agents.Agent{ID: "u1", Status: agents.StatusBusy})

	if err := f.machine.StartWrapUp(ctx, "u1", "t1"); err != nil {
		t.Fatalf("StartWrapUp: %v", err)
	}
	// A second call ends before the first wrap-up fires and installs timer-2.
	if _, err := f.agents.SetTimer(ctx, "u1", agents.TimerWrapUp, "timer-2"); err != nil {
		t.Fatalf("SetTimer: %v", err)
	}

	f.sched.Flush(ctx)
	if got := f.status(t, "u1"); got != agents.StatusBusy {
		t.Fatalf("stale timer must not change status, got %s", got)
	}

	ok, err := f.machine.Resolve(ctx, "u1", agents.TimerWrapUp, "timer-2")
	if err != nil || !ok {
		t.Fatalf("expected current timer to apply, ok=%v err=%v", ok, err)
	}
	if got := f.status(t, "u1"); got != agents.StatusAvailable {
		t.Fatalf("expected available, got %s", got)
	}
}

func TestStartWrapUp_ManualNotAvailableWinsImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.teams.PutTeam(teams.Team{ID: "t1", CallSettings: teams.CallSettings{WrapUpDelayAfterCallEnds: 30}})
	at := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	f.agents.Put(agents.Agent{ID: "u1", Status: agents.StatusBusy, NotAvailableSetAt: &at})

	if err := f.machine.StartWrapUp(ctx, "u1", "t1"); err != nil {
		t.Fatalf("StartWrapUp: %v", err)
	}
	if got := f.status(t, "u1"); got != agents.StatusNotAvailable {
		t.Fatalf("expected not available, got %s", got)
	}
	if f.sched.Pending() != 0 {
		t.Fatalf("expected no scheduled wrap-up")
	}
}

func TestStartWrapUp_NoDelayResolvesImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.teams.PutTeam(teams.Team{ID: "t1"})
	f.agents.Put(agents.Agent{ID: "u1", Status: agents.StatusBusy})

	if err := f.machine.StartWrapUp(ctx, "u1", "t1"); err != nil {
		t.Fatalf("StartWrapUp: %v", err)
	}
	if got := f.status(t, "u1"); got != agents.StatusAvailable {
		t.Fatalf("expected available, got %s", got)
	}
	if len(f.rec.ByEvent(notify.EventWrapUpStarted)) != 0 {
		t.Fatalf("no wrap-up notification expected without a delay")
	}
}

func TestStartLoginDelay_UsesSlowestTeamForFrontLineRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.teams.PutTeam(teams.Team{ID: "fast", CallSettings: teams.CallSettings{InitialDelayAfterSignOn: 5}})
	f.teams.PutTeam(teams.Team{ID: "slow", CallSettings: teams.CallSettings{InitialDelayAfterSignOn: 60}})
	f.teams.PutMember(teams.Member{ID: "m1", TeamID: "fast", UserID: "u1"})
	f.teams.PutMember(teams.Member{ID: "m2", TeamID: "slow", UserID: "u1", Roles: []string{teams.RoleLeasingAgent}})
	f.agents.Put(agents.Agent{ID: "u1", Status: agents.StatusNotAvailable})

	if err := f.machine.StartLoginDelay(ctx, "u1"); err != nil {
		t.Fatalf("StartLoginDelay: %v", err)
	}
	if d := f.sched.Delays(); len(d) != 1 || d[0] != time.Minute {
		t.Fatalf("expected one 60s task, got %v", d)
	}
	if got := f.status(t, "u1"); got == agents.StatusAvailable {
		t.Fatalf("agent must not be callable during the login delay")
	}
	if len(f.rec.ByEvent(notify.EventLoginDelayStarted)) != 1 {
		t.Fatalf("expected login delay notification")
	}

	f.sched.Flush(ctx)
	if got := f.status(t, "u1"); got != agents.StatusAvailable {
		t.Fatalf("expected available after login delay, got %s", got)
	}
}

func TestStartLoginDelay_OtherRoleSignsOnImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.teams.PutTeam(teams.Team{ID: "slow", CallSettings: teams.CallSettings{InitialDelayAfterSignOn: 60}})
	f.teams.PutMember(teams.Member{ID: "m1", TeamID: "slow", UserID: "u1", Roles: []string{"manager"}})
	f.agents.Put(agents.Agent{ID: "u1", Status: agents.StatusNotAvailable})

	if err := f.machine.StartLoginDelay(ctx, "u1"); err != nil {
		t.Fatalf("StartLoginDelay: %v", err)
	}
	if got := f.status(t, "u1"); got != agents.StatusAvailable {
		t.Fatalf("expected available, got %s", got)
	}
	if f.sched.Pending() != 0 {
		t.Fatalf("expected nothing scheduled")
	}
}
