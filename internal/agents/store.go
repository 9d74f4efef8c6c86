package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"leasing-telephony/internal/notify"
	"leasing-telephony/pkg/logger"
)

// Membership answers the team questions availability bookkeeping needs.
type Membership interface {
	TeamIDsForAgents(ctx context.Context, userIDs []string) ([]string, error)
	MemberIDs(ctx context.Context, teamID string) ([]string, error)
}

// EndpointChecker resolves which of an agent's SIP endpoints are reachable right now.
type EndpointChecker interface {
	OnlineSipEndpoints(ctx context.Context, a Agent) []SipEndpoint
}

// HistoryRecorder keeps the status history. Failures are logged and ignored.
type HistoryRecorder interface {
	RecordStatusChange(ctx context.Context, agentID, from, to string, manual bool, at time.Time) error
}

// Store is the single entry point for reading and changing agent availability.
type Store struct {
	repo      Repository
	members   Membership
	endpoints EndpointChecker
	notifier  notify.Notifier
	history   HistoryRecorder
	signals   *SignalHub

	now func() time.Time
	log *slog.Logger
}

type StoreDeps struct {
	Repo      Repository
	Members   Membership
	Endpoints EndpointChecker
	Notifier  notify.Notifier
	History   HistoryRecorder
	Signals   *SignalHub
	Now       func() time.Time
	Log       *slog.Logger
}

func NewStore(d StoreDeps) *Store {
	s := &Store{
		repo:      d.Repo,
		members:   d.Members,
		endpoints: d.Endpoints,
		notifier:  d.Notifier,
		history:   d.History,
		signals:   d.Signals,
		now:       d.Now,
		log:       logger.OrDiscard(d.Log),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.signals == nil {
		s.signals = NewSignalHub()
	}
	return s
}

// Signals exposes the hub availability signals are published on.
func (s *Store) Signals() *SignalHub { return s.signals }

// SetEndpointChecker wires the endpoint resolver after construction; the resolver itself
// depends on agents.
func (s *Store) SetEndpointChecker(c EndpointChecker) { s.endpoints = c }

func (s *Store) Get(ctx context.Context, id string) (Agent, error) { return s.repo.Get(ctx, id) }

func (s *Store) GetMany(ctx context.Context, ids []string) ([]Agent, error) {
	return s.repo.GetMany(ctx, ids)
}

// UpdateStatus moves every listed agent whose status differs to status and returns the
// agents that changed. Notifications and signals fire once per actual transition. An
// automatic Available resolves each agent under its row lock, so a manual NotAvailable
// override always wins.
func (s *Store) UpdateStatus(ctx context.Context, ids []string, status Status, manual bool) ([]Agent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if !status.Valid() {
		return nil, fmt.Errorf("agents: invalid status %q", status)
	}
	if status == StatusAvailable && !manual {
		return s.reconcileMany(ctx, ids)
	}

	at := s.now().UTC()
	changes, err := s.repo.UpdateStatus(ctx, ids, status, manual, at)
	if err != nil {
		return nil, fmt.Errorf("agents: update status: %w", err)
	}
	return s.applied(ctx, ids, changes, status, manual, at), nil
}

// UpdateStatusFrom moves only the listed agents currently in from to status. Callers act on
// the returned agents alone; the others were changed by someone else first.
func (s *Store) UpdateStatusFrom(ctx context.Context, ids []string, from, status Status) ([]Agent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if !status.Valid() || !from.Valid() {
		return nil, fmt.Errorf("agents: invalid transition %q -> %q", from, status)
	}
	at := s.now().UTC()
	changes, err := s.repo.UpdateStatusFrom(ctx, ids, from, status, at)
	if err != nil {
		return nil, fmt.Errorf("agents: update status from %s: %w", from, err)
	}
	return s.applied(ctx, ids, changes, status, false, at), nil
}

func (s *Store) applied(ctx context.Context, ids []string, changes []StatusChange, status Status, manual bool, at time.Time) []Agent {
	if len(changes) == 0 {
		s.log.Debug("no agent status changed", "agent_ids", ids, "status", status)
		return nil
	}
	s.afterTransition(ctx, changes, status, manual, at)

	out := make([]Agent, 0, len(changes))
	for _, c := range changes {
		out = append(out, c.Agent)
	}
	return out
}

func (s *Store) reconcileMany(ctx context.Context, ids []string) ([]Agent, error) {
	at := s.now().UTC()
	byStatus := map[Status][]StatusChange{}
	var out []Agent
	for _, id := range ids {
		c, changed, err := s.repo.Reconcile(ctx, id, at)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("agents: reconcile %s: %w", id, err)
		}
		if !changed {
			continue
		}
		byStatus[c.Agent.Status] = append(byStatus[c.Agent.Status], c)
		out = append(out, c.Agent)
	}
	for _, status := range []Status{StatusAvailable, StatusNotAvailable} {
		if changes := byStatus[status]; len(changes) > 0 {
			s.afterTransition(ctx, changes, status, false, at)
		}
	}
	return out, nil
}

// SetTimer installs timerID as the agent's current timer, invalidating older ones.
func (s *Store) SetTimer(ctx context.Context, id string, kind TimerKind, timerID string) (Agent, error) {
	return s.repo.SetTimer(ctx, id, kind, timerID)
}

// ResolveTimer applies the delayed transition guarded by timerID. It is a no-op when a
// newer timer has been installed since.
func (s *Store) ResolveTimer(ctx context.Context, id string, kind TimerKind, timerID string) (TimerOutcome, error) {
	at := s.now().UTC()
	out, err := s.repo.ResolveTimer(ctx, id, kind, timerID, at)
	if err != nil {
		return TimerOutcome{}, fmt.Errorf("agents: resolve %s timer: %w", kind, err)
	}
	if !out.Matched {
		s.log.Debug("stale timer ignored", "agent_id", id, "kind", kind, "timer_id", timerID, "current_timer_id", out.Agent.TimerID(kind))
		return out, nil
	}
	if out.Changed {
		s.afterTransition(ctx, []StatusChange{{Agent: out.Agent, From: out.From}}, out.Agent.Status, false, at)
	}
	return out, nil
}

// Reconcile moves the agent to its resolved status: NotAvailable under a manual
// override, Available otherwise. The flag is read under the same lock as the write.
func (s *Store) Reconcile(ctx context.Context, id string) (Agent, error) {
	at := s.now().UTC()
	c, changed, err := s.repo.Reconcile(ctx, id, at)
	if err != nil {
		return Agent{}, err
	}
	if changed {
		s.afterTransition(ctx, []StatusChange{c}, c.Agent.Status, false, at)
	}
	return c.Agent, nil
}

// CanAgentBeCalled reports whether a is Available and has a ring phone or at least one
// online SIP endpoint.
func (s *Store) CanAgentBeCalled(ctx context.Context, a Agent) bool {
	if a.Inactive || a.Status != StatusAvailable {
		return false
	}
	if len(a.RingPhones) > 0 {
		return true
	}
	if s.endpoints == nil {
		return false
	}
	return len(s.endpoints.OnlineSipEndpoints(ctx, a)) > 0
}

// CallableAgents re-reads ids and keeps the agents that can be called now, in order.
func (s *Store) CallableAgents(ctx context.Context, ids []string) ([]Agent, error) {
	all, err := s.repo.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]Agent, 0, len(all))
	for _, a := range all {
		if s.CanAgentBeCalled(ctx, a) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) afterTransition(ctx context.Context, changes []StatusChange, status Status, manual bool, at time.Time) {
	ids := make([]string, 0, len(changes))
	for _, c := range changes {
		ids = append(ids, c.Agent.ID)
		if s.history != nil {
			if err := s.history.RecordStatusChange(ctx, c.Agent.ID, string(c.From), string(status), manual, at); err != nil {
				s.log.Warn("status history append failed", "agent_id", c.Agent.ID, "err", err)
			}
		}
	}
	s.log.Info("agent status changed", "agent_ids", ids, "status", status, "manual", manual)

	switch status {
	case StatusAvailable:
		s.signals.Publish(ctx, Signal{Kind: SignalAgentsAvailable, AgentIDs: ids})
	case StatusNotAvailable:
		s.signals.Publish(ctx, Signal{Kind: SignalAgentsUnavailable, AgentIDs: ids})
		if offline := s.offlineTeams(ctx, ids); len(offline) > 0 {
			s.signals.Publish(ctx, Signal{Kind: SignalTeamsOffline, AgentIDs: ids, TeamIDs: offline})
		}
	}

	if s.notifier == nil {
		return
	}
	var teamIDs []string
	if s.members != nil {
		var err error
		teamIDs, err = s.members.TeamIDsForAgents(ctx, ids)
		if err != nil {
			s.log.Warn("teams lookup for availability notification failed", "agent_ids", ids, "err", err)
		}
	}
	s.notifier.Notify(ctx, notify.Message{
		Event: notify.EventUsersAvailabilityChanged,
		Data: map[string]any{
			"userIds":         ids,
			"status":          string(status),
			"statusUpdatedAt": at,
		},
		Routing: notify.Routing{Users: ids, Teams: teamIDs},
	})
}

// offlineTeams lists the teams of ids whose agents are all NotAvailable.
func (s *Store) offlineTeams(ctx context.Context, ids []string) []string {
	if s.members == nil {
		return nil
	}
	teamIDs, err := s.members.TeamIDsForAgents(ctx, ids)
	if err != nil {
		s.log.Warn("teams lookup for offline check failed", "agent_ids", ids, "err", err)
		return nil
	}
	var out []string
	for _, teamID := range teamIDs {
		memberIDs, err := s.members.MemberIDs(ctx, teamID)
		if err != nil {
			s.log.Warn("members lookup for offline check failed", "team_id", teamID, "err", err)
			continue
		}
		members, err := s.repo.GetMany(ctx, memberIDs)
		if err != nil {
			s.log.Warn("agents lookup for offline check failed", "team_id", teamID, "err", err)
			continue
		}
		allOffline := true
		for _, m := range members {
			if m.Status != "" && m.Status != StatusNotAvailable {
				allOffline = false
				break
			}
		}
		if allOffline {
			out = append(out, teamID)
		}
	}
	return out
}
