package callqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"leasing-telephony/internal/agents"
	"leasing-telephony/internal/calls"
	"leasing-telephony/internal/endpoints"
	"leasing-telephony/internal/notify"
	"leasing-telephony/internal/scheduler"
	"leasing-telephony/internal/teams"
	"leasing-telephony/internal/telephony"
	"leasing-telephony/pkg/logger"
)

type Config struct {
	// Disabled turns queueing off for the whole environment.
	Disabled bool
	// RingTimeout bounds each leg fired at an agent.
	RingTimeout time.Duration
	// AvailabilityDelay lets a freshly available agent settle before a dispatch round.
	AvailabilityDelay time.Duration
	// CallerID is presented on legs to external ring phones.
	CallerID string
}

// TeamSource loads teams and their members.
type TeamSource interface {
	Get(ctx context.Context, id string) (teams.Team, error)
	MemberIDs(ctx context.Context, teamID string) ([]string, error)
}

// EndpointSource resolves what to ring for a set of agents.
type EndpointSource interface {
	ForAgents(ctx context.Context, agentIDs []string) (endpoints.Targets, error)
}

// PartyAssigner gives the caller's party an owner when nobody took the call.
type PartyAssigner interface {
	AssignIfUnowned(ctx context.Context, partyID string, team teams.Team) error
}

// WrapUp starts the post-call grace period for the agent who took the call.
type WrapUp interface {
	StartWrapUp(ctx context.Context, agentID, teamID string) error
}

type Deps struct {
	Repo      Repository
	Comms     calls.Repository
	Agents    *agents.Store
	Teams     TeamSource
	Endpoints EndpointSource
	Ops       telephony.Ops
	Releaser  *calls.Releaser
	WrapUp    WrapUp
	Parties   PartyAssigner
	Notifier  notify.Notifier
	Scheduler scheduler.Scheduler
	Locker    Locker
	Hours     *teams.HoursGate
	Callbacks telephony.Callbacks
	Config    Config
	Now       func() time.Time
	Log       *slog.Logger
}

// Coordinator owns the lifecycle of queued calls.
type Coordinator struct {
	repo      Repository
	comms     calls.Repository
	agents    *agents.Store
	teams     TeamSource
	endpoints EndpointSource
	ops       telephony.Ops
	releaser  *calls.Releaser
	wrapUp    WrapUp
	parties   PartyAssigner
	notifier  notify.Notifier
	sched     scheduler.Scheduler
	locker    Locker
	hours     *teams.HoursGate
	callbacks telephony.Callbacks
	cfg       Config
	now       func() time.Time
	log       *slog.Logger
}

func New(d Deps) *Coordinator {
	c := &Coordinator{
		repo:      d.Repo,
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
		locker:    d.Locker,
		hours:     d.Hours,
		callbacks: d.Callbacks,
		cfg:       d.Config,
		now:       d.Now,
		log:       logger.OrDiscard(d.Log),
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.locker == nil {
		c.locker = NewLocalLocker()
	}
	if c.hours == nil {
		c.hours = teams.NewHoursGate(nil, d.Log)
	}
	return c
}

// Subscribe wires the coordinator to availability signals: newly available agents trigger
// a dispatch round, fully offline teams empty their queues.
func (c *Coordinator) Subscribe(hub *agents.SignalHub) {
	hub.Subscribe(func(ctx context.Context, s agents.Signal) {
		switch s.Kind {
		case agents.SignalAgentsAvailable:
			c.sched.ScheduleForLater(c.cfg.AvailabilityDelay, "queue dispatch", func(ctx context.Context) error {
				return c.Dispatch(ctx, nil)
			})
		case agents.SignalTeamsOffline:
			teamIDs := s.TeamIDs
			c.sched.ScheduleForLater(0, "queue teams offline", func(ctx context.Context) error {
				return c.TeamsOffline(ctx, teamIDs)
			})
		}
	})
}

// Admission is the queue's answer to an inbound call.
type Admission int

const (
	// AdmitDirect means the queue does not apply and the call is dialled directly.
	AdmitDirect Admission = iota
	AdmitQueue
	// AdmitNoAgents means the team queues calls but nobody is signed on.
	AdmitNoAgents
)

func (a Admission) String() string {
	switch a {
	case AdmitQueue:
		return "queue"
	case AdmitNoAgents:
		return "no_agents"
	}
	return "direct"
}

// Admit decides whether call waits in team's queue. Calls addressed to one person and
// transfers to a user are never queued.
func (c *Coordinator) Admit(ctx context.Context, call calls.InboundCall, team teams.Team) (Admission, error) {
	if c.cfg.Disabled || !team.CallQueue.Enabled {
		return AdmitDirect, nil
	}
	switch call.Target {
	case calls.TargetTeamMember, calls.TargetIndividual:
		return AdmitDirect, nil
	}
	if call.TransferTargetType == calls.TransferToUser {
		return AdmitDirect, nil
	}

	online, err := c.onlineAgents(ctx, team.ID)
	if err != nil {
		return AdmitDirect, err
	}
	if len(online) == 0 {
		return AdmitNoAgents, nil
	}
	return AdmitQueue, nil
}

// onlineAgents lists the team's active agents that are signed on, busy or not.
func (c *Coordinator) onlineAgents(ctx context.Context, teamID string) ([]agents.Agent, error) {
	ids, err := c.teams.MemberIDs(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("callqueue: load team members: %w", err)
	}
	list, err := c.agents.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("callqueue: load team agents: %w", err)
	}
	out := make([]agents.Agent, 0, len(list))
	for _, a := range list {
		if !a.Inactive && a.Status != "" && a.Status != agents.StatusNotAvailable {
			out = append(out, a)
		}
	}
	return out, nil
}

// Enqueue puts the caller on hold in team's queue and returns the hold treatment. The
// first dispatch round runs once the provider has the caller on hold.
func (c *Coordinator) Enqueue(ctx context.Context, comm calls.Communication, call calls.InboundCall, team teams.Team) (telephony.Response, error) {
	qc := QueuedCall{
		CommID:         comm.ID,
		TeamID:         team.ID,
		ExternalCallID: call.ExternalCallID,
		From:           call.From,
		PartyID:        comm.PartyID,
		Locked:         true,
		EnqueuedAt:     c.now().UTC(),
	}
	if call.TransferredFromUserID != "" {
		qc.DeclinedBy = []string{call.TransferredFromUserID}
	}
	if err := c.repo.Add(ctx, qc); err != nil {
		return telephony.Response{}, fmt.Errorf("callqueue: add call: %w", err)
	}
	if err := c.comms.SetFromQueue(ctx, comm.ID); err != nil {
		c.log.Warn("flag communication as queued failed", "comm_id", comm.ID, "err", err)
	}
	c.log.Info("call enqueued", "comm_id", comm.ID, "team_id", team.ID, "declined_by", qc.DeclinedBy)
	c.notifyQueueChanged(ctx, team.ID)

	commID := comm.ID
	if limit := team.QueueTimeLimit(); limit > 0 {
		c.sched.ScheduleForLater(limit, "queue time limit", func(ctx context.Context) error {
			return c.TimeExpired(ctx, commID)
		})
	}
	c.sched.ScheduleForLater(0, "queue first round", func(ctx context.Context) error {
		return c.ReadyForDequeue(ctx, commID, "")
	})
	return c.holdResponse(commID, true), nil
}

func (c *Coordinator) holdResponse(commID string, welcome bool) telephony.Response {
	var actions []telephony.Action
	if welcome {
		actions = append(actions, telephony.Message{Kind: telephony.MessageCallQueueWelcome})
	}
	actions = append(actions, telephony.Gather{
		ActionURL: c.callbacks.QueueDigits(commID),
		NumDigits: 1,
		Prompt:    []telephony.Action{telephony.Play{Sound: telephony.SoundHoldMusic}},
	})
	return telephony.NewResponse(actions...)
}

// Digits handles a key pressed while on hold: 1 asks for a callback, 2 leaves a
// voicemail, anything else resumes the hold music.
func (c *Coordinator) Digits(ctx context.Context, commID, digits string) (telephony.Response, error) {
	switch digits {
	case "1":
		return c.CallbackRequested(ctx, commID)
	case "2":
		return c.VoicemailRequested(ctx, commID)
	}
	if _, err := c.repo.Get(ctx, commID); errors.Is(err, ErrNotFound) {
		return telephony.NewResponse(telephony.Hangup{}), nil
	} else if err != nil {
		return telephony.Response{}, err
	}
	return c.holdResponse(commID, false), nil
}

// BridgeResponse joins a call to the conference room shared by the caller and the agent.
func (c *Coordinator) BridgeResponse(commID, room string) telephony.Response {
	return telephony.NewResponse(telephony.Conference{
		Room:        room,
		EndOnExit:   true,
		CallbackURL: c.callbacks.Conference(commID),
	})
}

// ConferenceEnded closes the communication once the bridge is torn down.
func (c *Coordinator) ConferenceEnded(ctx context.Context, commID string) {
	c.releaser.CloseCommunication(ctx, commID, c.now().UTC())
}

// List returns the calls waiting in the team queue, oldest first.
func (c *Coordinator) List(ctx context.Context, teamID string) ([]QueuedCall, error) {
	return c.repo.ListByTeam(ctx, teamID)
}

func (c *Coordinator) notifyQueueChanged(ctx context.Context, teamID string) {
	if c.notifier == nil || teamID == "" {
		return
	}
	c.notifier.Notify(ctx, notify.Message{
		Event:   notify.EventCallQueueChanged,
		Data:    map[string]any{"teamId": teamID},
		Routing: notify.Routing{Teams: []string{teamID}},
	})
}

func (c *Coordinator) hangup(ctx context.Context, legID string) {
	if err := c.ops.HangupCall(ctx, legID); err != nil && !errors.Is(err, telephony.ErrCallNotFound) {
		c.log.Warn("hang up queue leg failed", "leg_id", legID, "err", err)
	}
}
