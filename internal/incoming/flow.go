// Package incoming answers the provider's inbound-call webhook. It resolves who the call
// is for, keeps the communication record, and hands the call to after-hours voicemail, the
// team queue or the dial orchestrator.
package incoming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"leasing-telephony/internal/callqueue"
	"leasing-telephony/internal/calls"
	"leasing-telephony/internal/dial"
	"leasing-telephony/internal/parties"
	"leasing-telephony/internal/routing"
	"leasing-telephony/internal/teams"
	"leasing-telephony/internal/telephony"
	"leasing-telephony/pkg/logger"
)

// Router is the routing decision engine.
type Router interface {
	ResolveTarget(ctx context.Context, call calls.InboundCall, callerParties []parties.Party) (routing.Resolution, error)
	Receivers(ctx context.Context, t routing.Target, callerParties []parties.Party) (routing.Receivers, error)
	OwnerTeam(ctx context.Context, t routing.Target, callerParties []parties.Party) (teams.Team, error)
	IsOpen(ctx context.Context, team teams.Team) bool
}

type Queue interface {
	Admit(ctx context.Context, call calls.InboundCall, team teams.Team) (callqueue.Admission, error)
	Enqueue(ctx context.Context, comm calls.Communication, call calls.InboundCall, team teams.Team) (telephony.Response, error)
}

type Dialer interface {
	Dial(ctx context.Context, req dial.Request) (telephony.Response, error)
}

type Forwarder interface {
	Decide(ctx context.Context, t routing.Target) (string, bool)
}

type PartyOwners interface {
	AssignIfUnowned(ctx context.Context, partyID string, team teams.Team) error
}

type Deps struct {
	Router      Router
	Parties     parties.Repository
	Comms       calls.Repository
	Queue       Queue
	Dialer      Dialer
	Forwarder   Forwarder
	Owners      PartyOwners
	RingTimeout time.Duration
	Now         func() time.Time
	Log         *slog.Logger
}

type Flow struct {
	router      Router
	parties     parties.Repository
	comms       calls.Repository
	queue       Queue
	dialer      Dialer
	forwarder   Forwarder
	owners      PartyOwners
	ringTimeout time.Duration
	now         func() time.Time
	log         *slog.Logger
}

func New(d Deps) *Flow {
	f := &Flow{
		router:      d.Router,
		parties:     d.Parties,
		comms:       d.Comms,
		queue:       d.Queue,
		dialer:      d.Dialer,
		forwarder:   d.Forwarder,
		owners:      d.Owners,
		ringTimeout: d.RingTimeout,
		now:         d.Now,
		log:         logger.OrDiscard(d.Log),
	}
	if f.now == nil {
		f.now = time.Now
	}
	return f
}

// Handle routes one inbound call. q carries the transfer and redial parameters of a
// re-entry; a fresh call has none.
func (f *Flow) Handle(ctx context.Context, ev telephony.CallEvent, q url.Values) (telephony.Response, error) {
	call := calls.InboundCall{
		ExternalCallID: ev.CallSid,
		From:           ev.From,
		To:             ev.To,
		CallerName:     ev.CallerName,
	}
	if call.From == "" {
		call.From = ev.CallerName
	}
	call.ApplyTransferParams(q)
	log := f.log.With("call_id", call.ExternalCallID)
	if call.RedialAttemptNo > 0 {
		log.Info("inbound call is a redial attempt", "attempt", call.RedialAttemptNo, "comm_id", call.RedialForCommID)
	}

	callerParties, err := f.parties.FindOpenByPhone(ctx, call.From)
	if err != nil {
		return telephony.Response{}, fmt.Errorf("incoming: load caller parties: %w", err)
	}

	res, err := f.router.ResolveTarget(ctx, call, callerParties)
	var invalid *routing.InvalidTargetError
	if errors.As(err, &invalid) {
		log.Warn("inbound call has an invalid target", "target", invalid.Type)
		return telephony.TargetNotFoundResponse(), nil
	}
	if err != nil {
		return telephony.Response{}, err
	}
	target, found := res.Target()
	if !found {
		log.Warn("inbound call to unknown target", "to", call.To, "reason", res.Reason())
		return telephony.TargetNotFoundResponse(), nil
	}

	if f.forwarder != nil {
		if number, ok := f.forwarder.Decide(ctx, target); ok {
			log.Info("forwarding call for program", "program_id", target.Program.ID, "forward_to", number)
			return telephony.NewResponse(telephony.Dial{CallerID: call.From, Timeout: f.ringTimeout, Numbers: []string{number}}), nil
		}
	}

	comm, leadCreated, err := f.communication(ctx, call, target, callerParties)
	if err != nil {
		return telephony.Response{}, err
	}
	call.Target, call.TargetID = target.Call.Target, target.Call.TargetID
	call.CommID, call.PartyID = comm.ID, comm.PartyID
	if leadCreated {
		call.IsLeadCreated = true
	}
	target.Call = call
	if call.IsLeadCreated {
		callerParties = nil
	}
	log = log.With("comm_id", comm.ID)

	if !f.router.IsOpen(ctx, target.Team) {
		log.Info("inbound call after hours", "team_id", target.Team.ID)
		return f.afterHours(ctx, comm, target.Team), nil
	}

	queueTeam, err := f.queueTeam(ctx, target, callerParties)
	if err != nil {
		return telephony.Response{}, err
	}
	admission, err := f.queue.Admit(ctx, call, queueTeam)
	if err != nil {
		return telephony.Response{}, fmt.Errorf("incoming: queue admission: %w", err)
	}
	switch admission {
	case callqueue.AdmitQueue:
		log.Info("sending call to queue", "team_id", queueTeam.ID)
		return f.queue.Enqueue(ctx, comm, call, queueTeam)
	case callqueue.AdmitNoAgents:
		log.Info("queue has no online agents", "team_id", queueTeam.ID)
		f.assignOwner(ctx, comm.PartyID, queueTeam)
		f.recordOutcome(ctx, comm.ID, calls.OutcomeMissed, calls.MissedQueueNoAgents)
		return telephony.VoicemailResponse(telephony.MessageUnavailable, comm.ID), nil
	}

	receivers, err := f.router.Receivers(ctx, target, callerParties)
	if err != nil {
		return telephony.Response{}, fmt.Errorf("incoming: receivers: %w", err)
	}
	if receivers.Team.ID != target.Team.ID && !f.router.IsOpen(ctx, receivers.Team) {
		log.Info("owner team differs from target team and is closed", "team_id", receivers.Team.ID, "target_team_id", target.Team.ID)
		return f.afterHours(ctx, comm, receivers.Team), nil
	}
	log.Info("receivers determined", "type", receivers.Type, "agent_ids", receivers.AgentIDs, "team_id", receivers.Team.ID)

	if receivers.Type.IsAgents() && len(receivers.AgentIDs) == 1 {
		if err := f.comms.SetUser(ctx, comm.ID, receivers.AgentIDs[0]); err != nil {
			log.Warn("set communication user failed", "err", err)
		}
	}

	return f.dialer.Dial(ctx, dial.Request{Call: call, Comm: comm, TargetTeam: target.Team, Receivers: receivers})
}

// communication returns the record for this call, creating it and a lead party when the
// call is new. Redials and provider retries reuse the existing record.
func (f *Flow) communication(ctx context.Context, call calls.InboundCall, target routing.Target, callerParties []parties.Party) (calls.Communication, bool, error) {
	if call.RedialForCommID != "" {
		c, err := f.comms.Get(ctx, call.RedialForCommID)
		if err == nil {
			return c, false, nil
		}
		if !errors.Is(err, calls.ErrNotFound) {
			return calls.Communication{}, false, fmt.Errorf("incoming: load redialled communication: %w", err)
		}
	}

	c, err := f.comms.FindByExternalCall(ctx, call.ExternalCallID, call.TransferredFromCommID)
	if err == nil {
		return c, false, nil
	}
	if !errors.Is(err, calls.ErrNotFound) {
		return calls.Communication{}, false, fmt.Errorf("incoming: find communication: %w", err)
	}

	party, created, err := f.partyFor(ctx, call, target, callerParties)
	if err != nil {
		return calls.Communication{}, false, err
	}
	direction := calls.DirectionInbound
	if call.IsTransfer() {
		direction = calls.DirectionTransfer
	}
	var programID string
	if target.Program != nil {
		programID = target.Program.ID
	}
	c, err = f.comms.Create(ctx, calls.Communication{
		ExternalCallID:        call.ExternalCallID,
		TransferredFromCommID: call.TransferredFromCommID,
		Direction:             direction,
		From:                  call.From,
		To:                    call.To,
		PartyID:               party.ID,
		TeamID:                target.Team.ID,
		ProgramID:             programID,
		CreatedAt:             f.now().UTC(),
	})
	if err != nil {
		return calls.Communication{}, false, fmt.Errorf("incoming: create communication: %w", err)
	}
	f.log.Info("communication created", "comm_id", c.ID, "party_id", party.ID, "lead_created", created)
	return c, created, nil
}

// partyFor picks the caller's party in the target's property context, or creates a lead.
func (f *Flow) partyFor(ctx context.Context, call calls.InboundCall, target routing.Target, callerParties []parties.Party) (parties.Party, bool, error) {
	if narrowed := routing.NarrowByProperty(callerParties, target.PropertyID()); len(narrowed) > 0 {
		return narrowed[0], false, nil
	}
	p, err := f.parties.Create(ctx, parties.Party{
		CallerPhone: call.From,
		PropertyID:  target.PropertyID(),
		CreatedAt:   f.now().UTC(),
	})
	if err != nil {
		return parties.Party{}, false, fmt.Errorf("incoming: create lead: %w", err)
	}
	return p, true, nil
}

// queueTeam is the target team for new leads and team transfers, else the team owning
// the caller's parties.
func (f *Flow) queueTeam(ctx context.Context, target routing.Target, callerParties []parties.Party) (teams.Team, error) {
	if target.Call.IsLeadCreated || target.Call.TransferTargetType == calls.TransferToTeam {
		return target.Team, nil
	}
	team, err := f.router.OwnerTeam(ctx, target, callerParties)
	if err != nil {
		return teams.Team{}, fmt.Errorf("incoming: owner team: %w", err)
	}
	return team, nil
}

func (f *Flow) afterHours(ctx context.Context, comm calls.Communication, team teams.Team) telephony.Response {
	f.assignOwner(ctx, comm.PartyID, team)
	f.recordOutcome(ctx, comm.ID, calls.OutcomeMissed, calls.MissedAfterHours)
	return telephony.VoicemailResponse(telephony.MessageAfterHours, comm.ID)
}

func (f *Flow) assignOwner(ctx context.Context, partyID string, team teams.Team) {
	if f.owners == nil || partyID == "" {
		return
	}
	if err := f.owners.AssignIfUnowned(ctx, partyID, team); err != nil {
		f.log.Warn("assign party owner failed", "party_id", partyID, "team_id", team.ID, "err", err)
	}
}

func (f *Flow) recordOutcome(ctx context.Context, commID string, outcome calls.Outcome, reason calls.MissedReason) {
	if _, err := f.comms.RecordOutcome(ctx, commID, outcome, reason); err != nil {
		f.log.Error("record call outcome failed", "comm_id", commID, "outcome", outcome, "err", err)
	}
}
