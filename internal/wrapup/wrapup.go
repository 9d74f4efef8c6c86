// Package wrapup runs the delayed availability transitions that follow a finished call
// (wrap-up) and a fresh sign-on (login delay).
//
// Both use optimistic timer cancellation: a fresh timer id is stored on the agent before the
// delayed task is scheduled, and the task only acts if that id is still current when it
// fires. Installing a newer id, or any transition to Available, invalidates older tasks.
package wrapup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"leasing-telephony/internal/agents"
	"leasing-telephony/internal/notify"
	"leasing-telephony/internal/scheduler"
	"leasing-telephony/internal/teams"
	"leasing-telephony/pkg/logger"
)

// TeamSource loads the teams and memberships the delays are configured on.
type TeamSource interface {
	Get(ctx context.Context, id string) (teams.Team, error)
	ListForAgent(ctx context.Context, userID string) ([]teams.Team, error)
	MembershipsForAgent(ctx context.Context, userID string) ([]teams.Member, error)
}

type Machine struct {
	store    *agents.Store
	teams    TeamSource
	sched    scheduler.Scheduler
	notifier notify.Notifier
	log      *slog.Logger

	// NewTimerID is replaceable in tests.
	NewTimerID func() string
}

func New(store *agents.Store, teamSource TeamSource, sched scheduler.Scheduler, notifier notify.Notifier, log *slog.Logger) *Machine {
	return &Machine{
		store:      store,
		teams:      teamSource,
		sched:      sched,
		notifier:   notifier,
		log:        logger.OrDiscard(log),
		NewTimerID: uuid.NewString,
	}
}

// StartWrapUp handles the end of a call the agent answered for teamID. A manual
// NotAvailable override applies at once; otherwise the agent stays Busy for the team's
// wrap-up delay and is then resolved, or is resolved right away when no delay is set.
func (m *Machine) StartWrapUp(ctx context.Context, agentID, teamID string) error {
	a, err := m.store.Get(ctx, agentID)
	if err != nil {
		return fmt.Errorf("wrapup: load agent: %w", err)
	}
	if a.ManuallyNotAvailable() {
		m.log.Info("agent manually not available, skipping wrap-up", "agent_id", agentID)
		_, err := m.store.UpdateStatus(ctx, []string{agentID}, agents.StatusNotAvailable, false)
		return err
	}

	var delay time.Duration
	if teamID != "" {
		team, err := m.teams.Get(ctx, teamID)
		switch {
		case err == nil:
			delay = team.WrapUpDelay()
		case errors.Is(err, teams.ErrNotFound):
			m.log.Warn("wrap-up team not found, resolving immediately", "agent_id", agentID, "team_id", teamID)
		default:
			return fmt.Errorf("wrapup: load team: %w", err)
		}
	}
	if delay <= 0 {
		_, err := m.store.Reconcile(ctx, agentID)
		return err
	}
	return m.arm(ctx, agentID, agents.TimerWrapUp, delay, notify.EventWrapUpStarted)
}

// StartLoginDelay handles an agent signing on. The delay is the one configured on the
// agent's slowest-starting team, and only applies when the agent holds the front-line
// role there.
func (m *Machine) StartLoginDelay(ctx context.Context, agentID string) error {
	delay, err := m.loginDelay(ctx, agentID)
	if err != nil {
		return err
	}
	if delay <= 0 {
		_, err := m.store.UpdateStatus(ctx, []string{agentID}, agents.StatusAvailable, false)
		return err
	}
	if _, err := m.store.UpdateStatus(ctx, []string{agentID}, agents.StatusBusy, false); err != nil {
		return err
	}
	return m.arm(ctx, agentID, agents.TimerLogin, delay, notify.EventLoginDelayStarted)
}

func (m *Machine) loginDelay(ctx context.Context, agentID string) (time.Duration, error) {
	agentTeams, err := m.teams.ListForAgent(ctx, agentID)
	if err != nil {
		return 0, fmt.Errorf("wrapup: load agent teams: %w", err)
	}
	var slowest teams.Team
	for _, t := range agentTeams {
		if t.SignOnDelay() > slowest.SignOnDelay() {
			slowest = t
		}
	}
	if slowest.ID == "" {
		return 0, nil
	}

	memberships, err := m.teams.MembershipsForAgent(ctx, agentID)
	if err != nil {
		return 0, fmt.Errorf("wrapup: load memberships: %w", err)
	}
	for _, mb := range memberships {
		if mb.TeamID == slowest.ID && mb.HasRole(teams.RoleLeasingAgent) {
			return slowest.SignOnDelay(), nil
		}
	}
	m.log.Debug("no sign-on delay for role", "agent_id", agentID, "team_id", slowest.ID)
	return 0, nil
}

// arm installs a fresh timer id and schedules its resolution.
func (m *Machine) arm(ctx context.Context, agentID string, kind agents.TimerKind, delay time.Duration, event notify.Event) error {
	timerID := m.NewTimerID()
	if _, err := m.store.SetTimer(ctx, agentID, kind, timerID); err != nil {
		return fmt.Errorf("wrapup: set %s timer: %w", kind, err)
	}
	m.log.Info("agent timer started", "agent_id", agentID, "kind", kind, "timer_id", timerID, "delay", delay)

	if m.notifier != nil {
		m.notifier.Notify(ctx, notify.Message{
			Event:   event,
			Data:    map[string]any{"userId": agentID, "timerId": timerID, "delayMs": delay.Milliseconds()},
			Routing: notify.Routing{Users: []string{agentID}},
		})
	}

	m.sched.ScheduleForLater(delay, string(kind)+":"+agentID, func(ctx context.Context) error {
		_, err := m.Resolve(ctx, agentID, kind, timerID)
		return err
	})
	return nil
}

// Resolve applies the transition guarded by timerID and reports whether it was still
// current.
func (m *Machine) Resolve(ctx context.Context, agentID string, kind agents.TimerKind, timerID string) (bool, error) {
	out, err := m.store.ResolveTimer(ctx, agentID, kind, timerID)
	if err != nil {
		return false, err
	}
	return out.Matched, nil
}
