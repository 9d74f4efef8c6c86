package dial

import (
	"context"
	"strings"
	"testing"
	"time"

	"leasing-telephony/internal/agents"
	"leasing-telephony/internal/calls"
	"leasing-telephony/internal/endpoints"
	"leasing-telephony/internal/notify"
	"leasing-telephony/internal/routing"
	"leasing-telephony/internal/scheduler"
	"leasing-telephony/internal/teams"
	"leasing-telephony/internal/telephony"
	"leasing-telephony/internal/wrapup"
)

type partyStub struct {
	unowned  []string
	assigned map[string]string
}

func (p *partyStub) AssignIfUnowned(ctx context.Context, partyID string, team teams.Team) error {
	p.unowned = append(p.unowned, partyID+"@"+team.ID)
	return nil
}

func (p *partyStub) AssignTo(ctx context.Context, partyID, userID, teamID string) error {
	if p.assigned == nil {
		p.assigned = map[string]string{}
	}
	if _, ok := p.assigned[partyID]; !ok {
		p.assigned[partyID] = userID
	}
	return nil
}

type fixture struct {
	ctx     context.Context
	agents  *agents.MemoryRepo
	teams   *teams.MemoryRepo
	comms   *calls.MemoryRepo
	ops     *telephony.FakeOps
	sched   *scheduler.Deferred
	rec     *notify.Recorder
	parties *partyStub
	orch    *Orchestrator
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		ctx:     context.Background(),
		agents:  agents.NewMemoryRepo(),
		teams:   teams.NewMemoryRepo(),
		comms:   calls.NewMemoryRepo(),
		ops:     telephony.NewFakeOps(),
		sched:   scheduler.NewDeferred(nil),
		rec:     notify.NewRecorder(),
		parties: &partyStub{},
	}
	store := agents.NewStore(agents.StoreDeps{Repo: f.agents, Members: f.teams, Notifier: f.rec})
	resolver := endpoints.NewResolver(f.ops, nil, store, nil)
	store.SetEndpointChecker(resolver)
	f.orch = New(Deps{
		Comms:     f.comms,
		Agents:    store,
		Teams:     f.teams,
		Endpoints: resolver,
		Ops:       f.ops,
		Releaser:  calls.NewReleaser(store, f.comms, f.ops, nil, nil),
		WrapUp:    wrapup.New(store, f.teams, f.sched, f.rec, nil),
		Parties:   f.parties,
		Notifier:  f.rec,
		Scheduler: f.sched,
		Callbacks: telephony.Callbacks{BaseURL: "https://voice.example.com"},
		Config:    cfg,
	})
	return f
}

func (f *fixture) agent(id string, status agents.Status) {
	f.agents.Put(agents.Agent{ID: id, Status: status, SipEndpoints: []agents.SipEndpoint{{ID: id + "-e", Username: id + "-desk"}}})
	f.ops.SetRegistered(id+"-desk", true)
}

func (f *fixture) status(t *testing.T, id string) agents.Status {
	t.Helper()
	a, err := f.agents.Get(f.ctx, id)
	if err != nil {
		t.Fatalf("get agent %s: %v", id, err)
	}
	return a.Status
}

func (f *fixture) comm(t *testing.T) calls.Communication {
	t.Helper()
	c, err := f.comms.Get(f.ctx, "c1")
	if err != nil {
		t.Fatalf("get communication: %v", err)
	}
	return c
}

func (f *fixture) request(team teams.Team, typ routing.ReceiverType, attempt int, agentIDs ...string) Request {
	comm := calls.Communication{ID: "c1", ExternalCallID: "CA1", TeamID: team.ID, PartyID: "p1", From: "+15551234567"}
	f.comms.Put(comm)
	return Request{
		Call:       calls.InboundCall{ExternalCallID: "CA1", From: comm.From, Target: calls.TargetTeamMember, TargetID: "m1", RedialAttemptNo: attempt},
		Comm:       comm,
		TargetTeam: team,
		Receivers:  routing.Receivers{Type: typ, AgentIDs: agentIDs, Team: team},
	}
}

func legEvent(to, status string) telephony.CallEvent {
	return telephony.CallEvent{CallSid: "leg-" + to, To: to, CallStatus: status}
}

func TestDirectIndividualCallWrapsUpAfterTeamDelay(t *testing.T) {
	f := newFixture(t, Config{RingTimeout: 25 * time.Second})
	team := teams.Team{ID: "t1", CallSettings: teams.CallSettings{WrapUpDelayAfterCallEnds: 0.1}}
	f.teams.PutTeam(team)
	f.agent("u1", agents.StatusAvailable)

	res, err := f.orch.Dial(f.ctx, f.request(team, routing.ReceiverIndividual, 0, "u1"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	d, ok := telephony.First[telephony.Dial](res)
	if !ok {
		t.Fatalf("expected a dial, got %+v", res)
	}
	if len(d.SipUsernames) != 1 || d.SipUsernames[0] != "u1-desk" || len(d.Numbers) != 0 {
		t.Fatalf("expected exactly u1-desk rung, got %+v", d)
	}
	if d.Timeout != 25*time.Second || !strings.Contains(d.ActionURL, telephony.PathPostDial) {
		t.Fatalf("unexpected dial settings %+v", d)
	}
	if got := f.status(t, "u1"); got != agents.StatusBusy {
		t.Fatalf("expected u1 busy while ringing, got %s", got)
	}

	if err := f.orch.DialCallback(f.ctx, "c1", legEvent("sip:u1-desk@leasing.sip.twilio.com", "in-progress")); err != nil {
		t.Fatalf("dial callback: %v", err)
	}
	if got := f.status(t, "u1"); got != agents.StatusBusy {
		t.Fatalf("expected u1 busy on the call, got %s", got)
	}

	if _, err := f.orch.PostDial(f.ctx, "c1", telephony.CallEvent{DialCallStatus: "completed"}); err != nil {
		t.Fatalf("post dial: %v", err)
	}
	if got := f.status(t, "u1"); got != agents.StatusBusy {
		t.Fatalf("expected u1 busy during wrap-up, got %s", got)
	}
	if d := f.sched.Delays(); len(d) != 1 || d[0] != 100*time.Millisecond {
		t.Fatalf("expected a 100ms wrap-up timer, got %v", d)
	}
	f.sched.Flush(f.ctx)
	if got := f.status(t, "u1"); got != agents.StatusAvailable {
		t.Fatalf("expected u1 available after wrap-up, got %s", got)
	}
	if c := f.comm(t); c.Outcome != calls.OutcomeAnswered || c.EndedAt == nil {
		t.Fatalf("expected closed answered call, got %+v", c)
	}
}

func TestRedialUntilAttemptsRunOut(t *testing.T) {
	f := newFixture(t, Config{RedialDelay: 5 * time.Second, RedialMaxAttempts: 1})
	team := teams.Team{ID: "t1"}
	f.teams.PutTeam(team)
	f.agent("u1", agents.StatusBusy)
	f.ops.AddLiveCall("CA1")

	res, err := f.orch.Dial(f.ctx, f.request(team, routing.ReceiverIndividual, 0, "u1"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if p, ok := telephony.First[telephony.Play](res); !ok || p.Sound != telephony.SoundRinging {
		t.Fatalf("expected ringing while waiting, got %+v", res)
	}
	if d := f.sched.Delays(); len(d) != 1 || d[0] != 5*time.Second {
		t.Fatalf("expected one redial after 5s, got %v", d)
	}
	f.sched.Flush(f.ctx)
	target, ok := f.ops.TransferTarget("CA1")
	if !ok {
		t.Fatalf("expected the caller sent back into routing")
	}
	for _, want := range []string{telephony.PathIncoming, "redialAttemptNo=1", "redialForCommId=c1", "targetId=m1"} {
		if !strings.Contains(target, want) {
			t.Fatalf("expected %q in redial url %q", want, target)
		}
	}

	res, err = f.orch.Dial(f.ctx, f.request(team, routing.ReceiverIndividual, 1, "u1"))
	if err != nil {
		t.Fatalf("second dial: %v", err)
	}
	vm, ok := telephony.First[telephony.Voicemail](res)
	if !ok || vm.Kind != telephony.MessageUnavailable {
		t.Fatalf("expected unavailable voicemail, got %+v", res)
	}
	if f.sched.Pending() != 0 {
		t.Fatalf("expected no further redial")
	}
	if c := f.comm(t); c.Outcome != calls.OutcomeMissed || c.MissedReason != calls.MissedUnavailable {
		t.Fatalf("expected missed unavailable, got %s/%s", c.Outcome, c.MissedReason)
	}
	if len(f.parties.unowned) != 1 {
		t.Fatalf("expected the party given an owner, got %v", f.parties.unowned)
	}
}

func TestRingOnlyClaimsAgentsStillAvailable(t *testing.T) {
	f := newFixture(t, Config{RedialDelay: 5 * time.Second, RedialMaxAttempts: 1})
	team := teams.Team{ID: "t1"}
	f.teams.PutTeam(team)
	f.agent("u1", agents.StatusAvailable)
	f.agent("u2", agents.StatusAvailable)
	f.agent("u3", agents.StatusNotAvailable)

	res, err := f.orch.ring(f.ctx, f.request(team, routing.ReceiverTeamPool, 0, "u1", "u2", "u3"), []string{"u1", "u3"})
	if err != nil {
		t.Fatalf("ring: %v", err)
	}
	d, ok := telephony.First[telephony.Dial](res)
	if !ok || len(d.SipUsernames) != 1 || d.SipUsernames[0] != "u1-desk" {
		t.Fatalf("expected only u1 rung, got %+v", res)
	}
	if got := f.status(t, "u3"); got != agents.StatusNotAvailable {
		t.Fatalf("expected u3 left not_available, got %s", got)
	}
	if c := f.comm(t); len(c.Receivers) != 1 || len(c.Receivers["u1"]) != 1 {
		t.Fatalf("expected only u1 stored as receiver, got %+v", c.Receivers)
	}
}

func TestRingRedialsWhenEveryReceiverWasTaken(t *testing.T) {
	f := newFixture(t, Config{RedialDelay: 5 * time.Second, RedialMaxAttempts: 1})
	team := teams.Team{ID: "t1"}
	f.teams.PutTeam(team)
	f.agent("u1", agents.StatusBusy)

	res, err := f.orch.ring(f.ctx, f.request(team, routing.ReceiverIndividual, 0, "u1"), []string{"u1"})
	if err != nil {
		t.Fatalf("ring: %v", err)
	}
	if p, ok := telephony.First[telephony.Play](res); !ok || p.Sound != telephony.SoundRinging {
		t.Fatalf("expected a redial, got %+v", res)
	}

	res, err = f.orch.ring(f.ctx, f.request(team, routing.ReceiverIndividual, 1, "u1"), []string{"u1"})
	if err != nil {
		t.Fatalf("ring: %v", err)
	}
	if vm, ok := telephony.First[telephony.Voicemail](res); !ok || vm.Kind != telephony.MessageUnavailable {
		t.Fatalf("expected unavailable voicemail once redials run out, got %+v", res)
	}
}

func TestRedialDroppedWhenCallerHangsUp(t *testing.T) {
	f := newFixture(t, Config{RedialDelay: time.Second, RedialMaxAttempts: 3})
	team := teams.Team{ID: "t1"}
	f.teams.PutTeam(team)
	f.agent("u1", agents.StatusBusy)

	if _, err := f.orch.Dial(f.ctx, f.request(team, routing.ReceiverIndividual, 0, "u1")); err != nil {
		t.Fatalf("dial: %v", err)
	}
	if failed := f.sched.Flush(f.ctx); failed != 0 {
		t.Fatalf("expected the redial to end quietly, %d failed", failed)
	}
	if _, ok := f.ops.TransferTarget("CA1"); ok {
		t.Fatalf("expected no transfer for a caller who left")
	}
}

func TestNoRedialWhenTeamQueues(t *testing.T) {
	f := newFixture(t, Config{RedialDelay: time.Second, RedialMaxAttempts: 3})
	team := teams.Team{ID: "t1", CallQueue: teams.QueueSettings{Enabled: true}}
	f.teams.PutTeam(team)
	f.agent("u1", agents.StatusBusy)

	res, err := f.orch.Dial(f.ctx, f.request(team, routing.ReceiverIndividual, 0, "u1"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if _, ok := telephony.First[telephony.Voicemail](res); !ok {
		t.Fatalf("expected voicemail, got %+v", res)
	}
}

func TestDialCallbackTracksEachAgent(t *testing.T) {
	f := newFixture(t, Config{})
	team := teams.Team{ID: "t1", Strategy: teams.StrategyEverybody}
	f.teams.PutTeam(team)
	f.agent("u1", agents.StatusAvailable)
	f.agent("u2", agents.StatusAvailable)

	if _, err := f.orch.Dial(f.ctx, f.request(team, routing.ReceiverTeamPool, 0, "u1", "u2")); err != nil {
		t.Fatalf("dial: %v", err)
	}
	hangup := telephony.CallEvent{To: "sip:u1-desk@leasing.sip.twilio.com", CallStatus: "completed"}
	if err := f.orch.DialCallback(f.ctx, "c1", hangup); err != nil {
		t.Fatalf("hangup callback: %v", err)
	}
	if got := f.status(t, "u1"); got != agents.StatusAvailable {
		t.Fatalf("expected u1 freed once its only endpoint hung up, got %s", got)
	}
	if got := f.status(t, "u2"); got != agents.StatusBusy {
		t.Fatalf("expected u2 still ringing, got %s", got)
	}

	if err := f.orch.DialCallback(f.ctx, "c1", legEvent("sip:u2-desk@leasing.sip.twilio.com", "in-progress")); err != nil {
		t.Fatalf("answer callback: %v", err)
	}
	if c := f.comm(t); !c.Answered || c.UserID != "u2" {
		t.Fatalf("expected u2 to own the call, got %+v", c)
	}
	if n := len(f.rec.ByEvent(notify.EventCallAnsweredElsewhere)); n != 1 {
		t.Fatalf("expected answered elsewhere notification, got %d", n)
	}
	if f.parties.assigned["p1"] != "u2" {
		t.Fatalf("expected answering agent to own the party, got %v", f.parties.assigned)
	}

	if _, err := f.orch.PostDial(f.ctx, "c1", telephony.CallEvent{DialCallStatus: "completed"}); err != nil {
		t.Fatalf("post dial: %v", err)
	}
	if got := f.status(t, "u2"); got != agents.StatusAvailable {
		t.Fatalf("expected u2 available without a wrap-up delay, got %s", got)
	}
}

func TestPhoneAnswerNotifiesAgent(t *testing.T) {
	f := newFixture(t, Config{})
	team := teams.Team{ID: "t1"}
	f.teams.PutTeam(team)
	f.agents.Put(agents.Agent{ID: "u1", Status: agents.StatusAvailable, RingPhones: []string{"+15550001111"}})

	if _, err := f.orch.Dial(f.ctx, f.request(team, routing.ReceiverIndividual, 0, "u1")); err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := f.orch.DialCallback(f.ctx, "c1", legEvent("+15550001111", "in-progress")); err != nil {
		t.Fatalf("answer callback: %v", err)
	}
	msgs := f.rec.ByEvent(notify.EventCallAnswered)
	if len(msgs) != 1 || msgs[0].Data["isPhoneToPhone"] != true {
		t.Fatalf("expected phone answer notification, got %+v", msgs)
	}
}

func TestPostDialNoAnswerGoesToVoicemail(t *testing.T) {
	f := newFixture(t, Config{})
	team := teams.Team{ID: "t1"}
	f.teams.PutTeam(team)
	f.agent("u1", agents.StatusAvailable)

	if _, err := f.orch.Dial(f.ctx, f.request(team, routing.ReceiverIndividual, 0, "u1")); err != nil {
		t.Fatalf("dial: %v", err)
	}
	res, err := f.orch.PostDial(f.ctx, "c1", telephony.CallEvent{DialCallStatus: "no-answer"})
	if err != nil {
		t.Fatalf("post dial: %v", err)
	}
	if vm, ok := telephony.First[telephony.Voicemail](res); !ok || vm.Kind != telephony.MessageUnavailable {
		t.Fatalf("expected unavailable voicemail, got %+v", res)
	}
	if got := f.status(t, "u1"); got != agents.StatusAvailable {
		t.Fatalf("expected u1 freed, got %s", got)
	}
	if c := f.comm(t); c.MissedReason != calls.MissedNoAnswer {
		t.Fatalf("expected missed no answer, got %s", c.MissedReason)
	}
}

func TestCallCenterRingsTeamNumber(t *testing.T) {
	f := newFixture(t, Config{})
	team := teams.Team{ID: "t1", Strategy: teams.StrategyCallCenter, CallCenterPhone: "+15559990000"}
	f.teams.PutTeam(team)

	res, err := f.orch.Dial(f.ctx, f.request(team, routing.ReceiverCallCenter, 0))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	d, ok := telephony.First[telephony.Dial](res)
	if !ok || len(d.Numbers) != 1 || d.Numbers[0] != "+15559990000" {
		t.Fatalf("expected the call center number dialled, got %+v", res)
	}
	if len(f.parties.unowned) != 1 {
		t.Fatalf("expected the party assigned for call center calls")
	}
}
