// Package dial rings the receivers routing picked for an inbound call, and cleans up
// after the provider reports how the ringing went.
package dial

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"leasing-telephony/internal/agents"
	"leasing-telephony/internal/calls"
	"leasing-telephony/internal/endpoints"
	"leasing-telephony/internal/notify"
	"leasing-telephony/internal/routing"
	"leasing-telephony/internal/scheduler"
	"leasing-telephony/internal/teams"
	"leasing-telephony/internal/telephony"
	"leasing-telephony/pkg/logger"
)

type Config struct {
	// RingTimeout is shared by every endpoint of one dial.
	RingTimeout time.Duration
	// RedialDelay is how long a caller hears ringing before routing runs again.
	RedialDelay time.Duration
	// RedialMaxAttempts bounds redials per call.
	RedialMaxAttempts int
	// QueueDisabled turns queueing off for the whole environment.
	QueueDisabled bool
}

// EndpointSource resolves what to ring.
type EndpointSource interface {
	ForAgents(ctx context.Context, agentIDs []string) (endpoints.Targets, error)
	ForCallCenter(team teams.Team) endpoints.Targets
}

// PartyOwners assigns owners to the caller's party.
type PartyOwners interface {
	AssignIfUnowned(ctx context.Context, partyID string, team teams.Team) error
	AssignTo(ctx context.Context, partyID, userID, teamID string) error
}

type WrapUp interface {
	StartWrapUp(ctx context.Context, agentID, teamID string) error
}

type TeamSource interface {
	Get(ctx context.Context, id string) (teams.Team, error)
}

type Deps struct {
	Comms     calls.Repository
	Agents    *agents.Store
	Teams     TeamSource
	Endpoints EndpointSource
	Ops       telephony.Ops
	Releaser  *calls.Releaser
	WrapUp    WrapUp
	Parties   PartyOwners
	Notifier  notify.Notifier
	Scheduler scheduler.Scheduler
	Callbacks telephony.Callbacks
	Config    Config
	Now       func() time.Time
	Log       *slog.Logger
}

// Orchestrator turns a routing decision into ringing.
type Orchestrator struct {
	comms     calls.Repository
	agents    *agents.Store
	teams     TeamSource
	endpoints EndpointSource
	ops       telephony.Ops
	releaser  *calls.Releaser
	wrapUp    WrapUp
	parties   PartyOwners
	notifier  notify.Notifier
	sched     scheduler.Scheduler
	callbacks telephony.Callbacks
	cfg       Config
	now       func() time.Time
	log       *slog.Logger
}

func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		comms:     d.Comms,
		agents:    d.Agents,
		teams:     d.Teams,
		endpoints: d.Endpoints,
		ops:       d.Ops,
		releaser:  d.Releaser,
		wrapUp:    d.WrapUp,
		parties:   d.Parties,
		notifier:  d.Notifier,
		sched:     d.Scheduler,
		callbacks: d.Callbacks,
		cfg:       d.Config,
		now:       d.Now,
		log:       logger.OrDiscard(d.Log),
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Request is one dial decision.
type Request struct {
	Call calls.InboundCall
	Comm calls.Communication
	// TargetTeam is the team the call was addressed to; its queue setting decides whether
	// busy receivers are redialled.
	TargetTeam teams.Team
	Receivers  routing.Receivers
}

// Dial rings every available receiver at once. With nobody available the caller is
// redialled when an addressed agent is merely busy, and sent to voicemail otherwise.
func (o *Orchestrator) Dial(ctx context.Context, req Request) (telephony.Response, error) {
	available, anyBusy, err := o.Available(ctx, req.Receivers)
	if err != nil {
		return telephony.Response{}, err
	}
	if len(available) == 0 {
		if o.shouldRedial(req, anyBusy) {
			return o.scheduleRedial(ctx, req.Call, req.Comm.ID), nil
		}
		return o.Unavailable(ctx, req.Comm, req.Receivers.Team), nil
	}
	return o.ring(ctx, req, available)
}

// Available returns the receivers that can be rung right now and whether any agent
// receiver is busy. A call center counts as available when it has a number.
func (o *Orchestrator) Available(ctx context.Context, r routing.Receivers) ([]string, bool, error) {
	if !r.Type.IsAgents() {
		if r.Team.CallCenterPhone == "" {
			return nil, false, nil
		}
		return []string{r.Team.ID}, false, nil
	}
	list, err := o.agents.GetMany(ctx, r.AgentIDs)
	if err != nil {
		return nil, false, fmt.Errorf("dial: load receivers: %w", err)
	}
	var (
		out  []string
		busy bool
	)
	for _, a := range list {
		if a.Status == agents.StatusBusy {
			busy = true
		}
		if o.agents.CanAgentBeCalled(ctx, a) {
			out = append(out, a.ID)
		}
	}
	return out, busy, nil
}

// shouldRedial allows RedialMaxAttempts redials in total.
func (o *Orchestrator) shouldRedial(req Request, anyBusy bool) bool {
	queueing := !o.cfg.QueueDisabled && req.TargetTeam.CallQueue.Enabled
	return !queueing &&
		req.Receivers.Type.IsAgents() &&
		anyBusy &&
		req.Call.RedialAttemptNo < o.cfg.RedialMaxAttempts
}

// scheduleRedial keeps the caller listening to ringing and sends the call back into the
// inbound flow after the redial delay, unless the caller hung up in the meantime.
func (o *Orchestrator) scheduleRedial(ctx context.Context, call calls.InboundCall, commID string) telephony.Response {
	next := call
	next.RedialAttemptNo++
	next.RedialForCommID = commID
	target := o.callbacks.Incoming(next.TransferParams())
	callID := call.ExternalCallID

	o.log.Info("receivers busy, redialling later", "comm_id", commID, "call_id", callID, "attempt", next.RedialAttemptNo, "delay", o.cfg.RedialDelay)
	o.sched.ScheduleForLater(o.cfg.RedialDelay, "redial", func(ctx context.Context) error {
		if !telephony.IsLive(ctx, o.ops, callID) {
			logger.From(ctx).Info("caller hung up while waiting for a redial", "comm_id", commID, "call_id", callID)
			return nil
		}
		if err := o.ops.TransferCall(ctx, callID, target); err != nil {
			return fmt.Errorf("dial: redial transfer: %w", err)
		}
		return nil
	})
	return telephony.NewResponse(telephony.Play{Sound: telephony.SoundRinging, Loop: 0})
}

// Unavailable gives the party an owner, records the miss and plays the unavailable
// voicemail treatment.
func (o *Orchestrator) Unavailable(ctx context.Context, comm calls.Communication, team teams.Team) telephony.Response {
	o.log.Info("no receiver available", "comm_id", comm.ID, "team_id", team.ID)
	o.assignOwner(ctx, comm.PartyID, team)
	o.recordOutcome(ctx, comm.ID, calls.OutcomeMissed, calls.MissedUnavailable)
	return telephony.VoicemailResponse(telephony.MessageUnavailable, comm.ID)
}

func (o *Orchestrator) ring(ctx context.Context, req Request, available []string) (telephony.Response, error) {
	commID := req.Comm.ID
	isAgents := req.Receivers.Type.IsAgents()
	if isAgents {
		claimed, err := o.claim(ctx, available)
		if err != nil {
			return telephony.Response{}, err
		}
		if len(claimed) == 0 {
			o.log.Info("receivers taken before ringing", "comm_id", commID, "agent_ids", available)
			if o.shouldRedial(req, true) {
				return o.scheduleRedial(ctx, req.Call, commID), nil
			}
			return o.Unavailable(ctx, req.Comm, req.Receivers.Team), nil
		}
		available = claimed
	}

	var targets endpoints.Targets
	if isAgents {
		var err error
		targets, err = o.endpoints.ForAgents(ctx, available)
		if err != nil {
			o.unclaim(ctx, available)
			return telephony.Response{}, fmt.Errorf("dial: resolve endpoints: %w", err)
		}
	} else {
		targets = o.endpoints.ForCallCenter(req.Receivers.Team)
		o.assignOwner(ctx, req.Comm.PartyID, req.Receivers.Team)
	}
	if targets.Empty() {
		if isAgents {
			o.unclaim(ctx, available)
		}
		return o.Unavailable(ctx, req.Comm, req.Receivers.Team), nil
	}

	if isAgents {
		if req.Receivers.Team.Strategy == teams.StrategyOwner && o.parties != nil {
			if err := o.parties.AssignTo(ctx, req.Comm.PartyID, available[0], req.Receivers.Team.ID); err != nil {
				o.log.Warn("assign party owner failed", "party_id", req.Comm.PartyID, "err", err)
			}
		}
		receivers := make(map[string][]string, len(available))
		for _, id := range available {
			receivers[id] = append(append([]string{}, targets.SipByUser[id]...), targets.NumbersByUser[id]...)
		}
		if err := o.comms.SetReceivers(ctx, commID, receivers); err != nil {
			o.unclaim(ctx, available)
			return telephony.Response{}, fmt.Errorf("dial: store receivers: %w", err)
		}
	}

	o.log.Info("dialling receivers", "comm_id", commID, "type", req.Receivers.Type, "sip", len(targets.SipUsernames), "numbers", len(targets.Numbers))
	return telephony.NewResponse(telephony.Dial{
		CallerID:     req.Call.From,
		Timeout:      o.cfg.RingTimeout,
		ActionURL:    o.callbacks.PostDial(commID),
		CallbackURL:  o.callbacks.DialCallback(commID),
		Headers:      map[string]string{"commId": commID},
		SipUsernames: targets.SipUsernames,
		Numbers:      targets.Numbers,
	}), nil
}

// claim moves the still-Available receivers to Busy and returns the ones this call won,
// in the order given.
func (o *Orchestrator) claim(ctx context.Context, ids []string) ([]string, error) {
	won, err := o.agents.UpdateStatusFrom(ctx, ids, agents.StatusAvailable, agents.StatusBusy)
	if err != nil {
		return nil, fmt.Errorf("dial: mark receivers busy: %w", err)
	}
	out := make([]string, 0, len(won))
	for _, a := range won {
		out = append(out, a.ID)
	}
	return out, nil
}

func (o *Orchestrator) unclaim(ctx context.Context, ids []string) {
	if _, err := o.agents.UpdateStatus(ctx, ids, agents.StatusAvailable, false); err != nil {
		o.log.Warn("release unrung receivers failed", "agent_ids", ids, "err", err)
	}
}

func (o *Orchestrator) assignOwner(ctx context.Context, partyID string, team teams.Team) {
	if o.parties == nil || partyID == "" {
		return
	}
	if err := o.parties.AssignIfUnowned(ctx, partyID, team); err != nil {
		o.log.Warn("assign party owner failed", "party_id", partyID, "team_id", team.ID, "err", err)
	}
}

func (o *Orchestrator) recordOutcome(ctx context.Context, commID string, outcome calls.Outcome, reason calls.MissedReason) {
	if _, err := o.comms.RecordOutcome(ctx, commID, outcome, reason); err != nil {
		o.log.Error("record call outcome failed", "comm_id", commID, "outcome", outcome, "err", err)
	}
}

func (o *Orchestrator) notify(ctx context.Context, event notify.Event, data map[string]any, users []string) {
	if o.notifier == nil || len(users) == 0 {
		return
	}
	o.notifier.Notify(ctx, notify.Message{Event: event, Data: data, Routing: notify.Routing{Users: users}})
}
