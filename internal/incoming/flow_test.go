package incoming

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"leasing-telephony/internal/agents"
	"leasing-telephony/internal/callqueue"
	"leasing-telephony/internal/calls"
	"leasing-telephony/internal/dial"
	"leasing-telephony/internal/endpoints"
	"leasing-telephony/internal/notify"
	"leasing-telephony/internal/parties"
	"leasing-telephony/internal/routing"
	"leasing-telephony/internal/scheduler"
	"leasing-telephony/internal/teams"
	"leasing-telephony/internal/telephony"
	"leasing-telephony/internal/wrapup"
)

type queueStub struct {
	admission callqueue.Admission
	admitted  []string
	enqueued  []string
}

func (q *queueStub) Admit(ctx context.Context, call calls.InboundCall, team teams.Team) (callqueue.Admission, error) {
	q.admitted = append(q.admitted, team.ID)
	return q.admission, nil
}

func (q *queueStub) Enqueue(ctx context.Context, comm calls.Communication, call calls.InboundCall, team teams.Team) (telephony.Response, error) {
	q.enqueued = append(q.enqueued, comm.ID+"@"+team.ID)
	return telephony.NewResponse(telephony.Gather{}), nil
}

var alwaysOpen = teams.OfficeHours{time.Monday: {Start: 0, End: 24 * 60}}

type fixture struct {
	ctx     context.Context
	agents  *agents.MemoryRepo
	teams   *teams.MemoryRepo
	parties *parties.MemoryRepo
	comms   *calls.MemoryRepo
	ops     *telephony.FakeOps
	queue   *queueStub
	flow    *Flow
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := func() time.Time { return time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC) }
	f := &fixture{
		ctx:     context.Background(),
		agents:  agents.NewMemoryRepo(),
		teams:   teams.NewMemoryRepo(),
		parties: parties.NewMemoryRepo(),
		comms:   calls.NewMemoryRepo(),
		ops:     telephony.NewFakeOps(),
		queue:   &queueStub{admission: callqueue.AdmitDirect},
	}
	rec := notify.NewRecorder()
	sched := scheduler.NewDeferred(nil)
	store := agents.NewStore(agents.StoreDeps{Repo: f.agents, Members: f.teams, Notifier: rec, Now: clock})
	resolver := endpoints.NewResolver(f.ops, nil, store, nil)
	store.SetEndpointChecker(resolver)

	hours := teams.NewHoursGate(nil, nil)
	hours.Now = clock
	engine := routing.NewEngine(f.teams, f.agents, hours, nil)
	owners := routing.NewOwnerAssigner(engine, f.parties, nil)
	dialer := dial.New(dial.Deps{
		Comms:     f.comms,
		Agents:    store,
		Teams:     f.teams,
		Endpoints: resolver,
		Ops:       f.ops,
		Releaser:  calls.NewReleaser(store, f.comms, f.ops, nil, nil),
		WrapUp:    wrapup.New(store, f.teams, sched, rec, nil),
		Parties:   owners,
		Notifier:  rec,
		Scheduler: sched,
		Callbacks: telephony.Callbacks{BaseURL: "https://voice.example.com"},
		Config:    dial.Config{RingTimeout: 25 * time.Second, RedialDelay: 5 * time.Second, RedialMaxAttempts: 3},
		Now:       clock,
	})
	f.flow = New(Deps{
		Router:      engine,
		Parties:     f.parties,
		Comms:       f.comms,
		Queue:       f.queue,
		Dialer:      dialer,
		Forwarder:   routing.NewForwarder(nil),
		Owners:      owners,
		RingTimeout: 25 * time.Second,
		Now:         clock,
	})
	return f
}

func (f *fixture) team(id string, s teams.Strategy, hours teams.OfficeHours, agentIDs ...string) teams.Team {
	t := teams.Team{ID: id, Strategy: s, OfficeHours: hours}
	f.teams.PutTeam(t)
	for _, a := range agentIDs {
		f.teams.PutMember(teams.Member{ID: id + "-" + a, TeamID: id, UserID: a})
		f.agents.Put(agents.Agent{ID: a, Status: agents.StatusAvailable, SipEndpoints: []agents.SipEndpoint{{ID: a + "-e", Username: a + "-desk"}}})
		f.ops.SetRegistered(a+"-desk", true)
	}
	return t
}

func (f *fixture) program(id, teamID string) {
	f.teams.PutProgram(teams.Program{ID: id, TeamID: teamID, PhoneNumber: "+15551110000"})
}

func (f *fixture) call(t *testing.T, to string, q url.Values) telephony.Response {
	t.Helper()
	ev := telephony.CallEvent{CallSid: "CA1", From: "+15551234567", To: to, Direction: "inbound"}
	res, err := f.flow.Handle(f.ctx, ev, q)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	return res
}

func (f *fixture) comm(t *testing.T) calls.Communication {
	t.Helper()
	c, err := f.comms.FindByExternalCall(f.ctx, "CA1", "")
	if err != nil {
		t.Fatalf("expected a communication for the call: %v", err)
	}
	return c
}

func dialOf(t *testing.T, res telephony.Response) telephony.Dial {
	t.Helper()
	d, ok := telephony.First[telephony.Dial](res)
	if !ok {
		t.Fatalf("expected a dial, got %+v", res)
	}
	return d
}

func TestUnknownNumberGetsTargetNotFound(t *testing.T) {
	f := newFixture(t)

	res := f.call(t, "+15550000000", nil)
	if m, ok := telephony.First[telephony.Message](res); !ok || m.Kind != telephony.MessageTargetNotFound {
		t.Fatalf("expected target not found treatment, got %+v", res)
	}
	if _, err := f.comms.FindByExternalCall(f.ctx, "CA1", ""); !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("expected no communication, got %v", err)
	}
}

func TestInvalidTargetTypeGetsTargetNotFound(t *testing.T) {
	f := newFixture(t)

	res := f.call(t, "+15551110000", url.Values{calls.ParamTarget: {"building"}, calls.ParamTargetID: {"x"}})
	if _, ok := telephony.First[telephony.Message](res); !ok {
		t.Fatalf("expected target not found treatment, got %+v", res)
	}
}

func TestProgramForwardingSkipsRouting(t *testing.T) {
	f := newFixture(t)
	f.team("t1", teams.StrategyEverybody, alwaysOpen, "u1")
	f.teams.PutProgram(teams.Program{ID: "p1", TeamID: "t1", PhoneNumber: "+15551110000", ForwardingNumber: "+15557770000"})

	d := dialOf(t, f.call(t, "+15551110000", nil))
	if len(d.Numbers) != 1 || d.Numbers[0] != "+15557770000" || len(d.SipUsernames) != 0 {
		t.Fatalf("expected forwarding number only, got %+v", d)
	}
	if len(f.queue.admitted) != 0 {
		t.Fatalf("expected forwarding ahead of queue admission")
	}
}

func TestNewCallerRingsTeamByStrategy(t *testing.T) {
	f := newFixture(t)
	f.team("t1", teams.StrategyEverybody, alwaysOpen, "u1", "u2")
	f.program("p1", "t1")

	d := dialOf(t, f.call(t, "+15551110000", nil))
	if len(d.SipUsernames) != 2 {
		t.Fatalf("expected both agents rung, got %v", d.SipUsernames)
	}
	c := f.comm(t)
	if c.PartyID == "" || c.TeamID != "t1" || c.ProgramID != "p1" || c.Direction != calls.DirectionInbound {
		t.Fatalf("unexpected communication %+v", c)
	}
	lead, err := f.parties.Get(f.ctx, c.PartyID)
	if err != nil || lead.CallerPhone != "+15551234567" {
		t.Fatalf("expected a lead for the caller, got %+v (%v)", lead, err)
	}
	if d.Headers["commId"] != c.ID {
		t.Fatalf("expected comm id header, got %v", d.Headers)
	}
	for _, id := range []string{"u1", "u2"} {
		if a, _ := f.agents.Get(f.ctx, id); a.Status != agents.StatusBusy {
			t.Fatalf("expected %s busy, got %s", id, a.Status)
		}
	}
}

func TestAfterHoursGoesToVoicemail(t *testing.T) {
	f := newFixture(t)
	f.team("t1", teams.StrategyEverybody, teams.OfficeHours{time.Tuesday: {Start: 540, End: 1020}}, "u1")
	f.program("p1", "t1")

	res := f.call(t, "+15551110000", nil)
	vm, ok := telephony.First[telephony.Voicemail](res)
	if !ok || vm.Kind != telephony.MessageAfterHours {
		t.Fatalf("expected after-hours voicemail, got %+v", res)
	}
	c := f.comm(t)
	if c.Outcome != calls.OutcomeMissed || c.MissedReason != calls.MissedAfterHours {
		t.Fatalf("expected missed after hours, got %s/%s", c.Outcome, c.MissedReason)
	}
	p, _ := f.parties.Get(f.ctx, c.PartyID)
	if p.OwnerUserID != "u1" {
		t.Fatalf("expected the lead assigned to u1, got %q", p.OwnerUserID)
	}
	if a, _ := f.agents.Get(f.ctx, "u1"); a.Status != agents.StatusAvailable {
		t.Fatalf("expected nobody rung after hours")
	}
}

func TestDirectNumberRingsOnlyThatMember(t *testing.T) {
	f := newFixture(t)
	f.team("t1", teams.StrategyEverybody, alwaysOpen, "u1", "u2")
	f.teams.PutMember(teams.Member{ID: "t1-u1", TeamID: "t1", UserID: "u1", DirectPhone: "+15552220000"})

	d := dialOf(t, f.call(t, "+15552220000", nil))
	if len(d.SipUsernames) != 1 || d.SipUsernames[0] != "u1-desk" {
		t.Fatalf("expected only u1 rung, got %v", d.SipUsernames)
	}
	if c := f.comm(t); c.UserID != "u1" {
		t.Fatalf("expected single receiver recorded on the call, got %q", c.UserID)
	}
}

func TestKnownCallerRingsPartyOwner(t *testing.T) {
	f := newFixture(t)
	f.team("t1", teams.StrategyOwner, alwaysOpen, "u1", "u2")
	f.program("p1", "t1")
	f.parties.Put(parties.Party{ID: "party-1", CallerPhone: "+15551234567", OwnerUserID: "u2", OwnerTeamID: "t1"})

	d := dialOf(t, f.call(t, "+15551110000", nil))
	if len(d.SipUsernames) != 1 || d.SipUsernames[0] != "u2-desk" {
		t.Fatalf("expected the owner rung, got %v", d.SipUsernames)
	}
	if c := f.comm(t); c.PartyID != "party-1" {
		t.Fatalf("expected the existing party, got %q", c.PartyID)
	}
}

func TestClosedOwnerTeamGoesToVoicemail(t *testing.T) {
	f := newFixture(t)
	f.team("t1", teams.StrategyOwner, alwaysOpen, "u1")
	f.team("t2", teams.StrategyOwner, nil, "u2")
	f.program("p1", "t1")
	f.parties.Put(parties.Party{ID: "party-1", CallerPhone: "+15551234567", OwnerUserID: "u2", OwnerTeamID: "t2"})

	res := f.call(t, "+15551110000", nil)
	if vm, ok := telephony.First[telephony.Voicemail](res); !ok || vm.Kind != telephony.MessageAfterHours {
		t.Fatalf("expected after-hours voicemail for the owner team, got %+v", res)
	}
	if len(f.queue.admitted) != 1 || f.queue.admitted[0] != "t2" {
		t.Fatalf("expected queue admission against the owner team, got %v", f.queue.admitted)
	}
}

func TestQueueAdmission(t *testing.T) {
	f := newFixture(t)
	f.team("t1", teams.StrategyEverybody, alwaysOpen, "u1")
	f.program("p1", "t1")
	f.queue.admission = callqueue.AdmitQueue

	res := f.call(t, "+15551110000", nil)
	if _, ok := telephony.First[telephony.Gather](res); !ok {
		t.Fatalf("expected the queue hold treatment, got %+v", res)
	}
	c := f.comm(t)
	if len(f.queue.enqueued) != 1 || f.queue.enqueued[0] != c.ID+"@t1" {
		t.Fatalf("expected call enqueued on t1, got %v", f.queue.enqueued)
	}
}

func TestQueueWithoutOnlineAgents(t *testing.T) {
	f := newFixture(t)
	f.team("t1", teams.StrategyEverybody, alwaysOpen, "u1")
	f.program("p1", "t1")
	f.queue.admission = callqueue.AdmitNoAgents

	res := f.call(t, "+15551110000", nil)
	if vm, ok := telephony.First[telephony.Voicemail](res); !ok || vm.Kind != telephony.MessageUnavailable {
		t.Fatalf("expected unavailable voicemail, got %+v", res)
	}
	if c := f.comm(t); c.MissedReason != calls.MissedQueueNoAgents {
		t.Fatalf("expected missed with no queue agents, got %s", c.MissedReason)
	}
}

func TestRedialReusesCommunication(t *testing.T) {
	f := newFixture(t)
	f.team("t1", teams.StrategyEverybody, alwaysOpen, "u1")
	f.program("p1", "t1")
	f.comms.Put(calls.Communication{ID: "c-prev", ExternalCallID: "CA1", TeamID: "t1", PartyID: "party-0"})

	q := url.Values{
		calls.ParamRedialAttemptNo: {"1"},
		calls.ParamRedialForCommID: {"c-prev"},
		calls.ParamTarget:          {string(calls.TargetProgram)},
		calls.ParamTargetID:        {"p1"},
	}
	d := dialOf(t, f.call(t, "+15551110000", q))
	if d.Headers["commId"] != "c-prev" {
		t.Fatalf("expected the redial to reuse c-prev, got %v", d.Headers)
	}
	if ps, _ := f.parties.FindOpenByPhone(f.ctx, "+15551234567"); len(ps) != 0 {
		t.Fatalf("expected no lead created on redial, got %d", len(ps))
	}
}

func TestRedialWhenAgentBusy(t *testing.T) {
	f := newFixture(t)
	f.team("t1", teams.StrategyEverybody, alwaysOpen, "u1")
	f.teams.PutMember(teams.Member{ID: "t1-u1", TeamID: "t1", UserID: "u1", DirectPhone: "+15552220000"})
	if _, err := f.agents.UpdateStatus(f.ctx, []string{"u1"}, agents.StatusBusy, false, time.Now()); err != nil {
		t.Fatalf("set busy: %v", err)
	}

	res := f.call(t, "+15552220000", nil)
	if p, ok := telephony.First[telephony.Play](res); !ok || p.Sound != telephony.SoundRinging {
		t.Fatalf("expected ringing while waiting for a redial, got %+v", res)
	}
}
