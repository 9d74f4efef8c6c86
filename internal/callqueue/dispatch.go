package callqueue

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"leasing-telephony/internal/agents"
	"leasing-telephony/internal/teams"
	"leasing-telephony/internal/telephony"
)

const dispatchLockKey = "callqueue:dispatch"

// ReadyForDequeue releases the call after a firing round, recording declinedBy as a
// decliner. An expired call goes to voicemail, a call every online agent declined goes to
// voicemail, and anything else waits for the next dispatch round.
func (c *Coordinator) ReadyForDequeue(ctx context.Context, commID, declinedBy string) error {
	qc, err := c.repo.Unlock(ctx, commID, declinedBy)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("callqueue: unlock call: %w", err)
	}
	team, err := c.teams.Get(ctx, qc.TeamID)
	if err != nil {
		return fmt.Errorf("callqueue: load team: %w", err)
	}
	if qc.Expired(team.QueueTimeLimit(), c.now()) {
		return c.TimeExpired(ctx, commID)
	}

	online, err := c.onlineAgents(ctx, team.ID)
	if err != nil {
		return err
	}
	remaining := 0
	for _, a := range online {
		if !qc.HasDeclined(a.ID) {
			remaining++
		}
	}
	if remaining == 0 {
		return c.declinedByAll(ctx, qc, team)
	}
	return c.Dispatch(ctx, []string{qc.TeamID})
}

// Dispatch runs one firing round over the waiting calls of teamIDs (every team when
// empty), oldest call first. Rounds are serialised across instances; a round that cannot
// take the lock retries after the availability delay.
func (c *Coordinator) Dispatch(ctx context.Context, teamIDs []string) error {
	unlock, ok, err := c.locker.TryLock(ctx, dispatchLockKey)
	if err != nil {
		return fmt.Errorf("callqueue: take dispatch lock: %w", err)
	}
	if !ok {
		c.log.Debug("dispatch round already running, retrying later", "team_ids", teamIDs)
		c.sched.ScheduleForLater(c.cfg.AvailabilityDelay, "queue dispatch retry", func(ctx context.Context) error {
			return c.Dispatch(ctx, teamIDs)
		})
		return nil
	}
	defer unlock()

	waiting, err := c.repo.ListWaiting(ctx, teamIDs)
	if err != nil {
		return fmt.Errorf("callqueue: list waiting calls: %w", err)
	}
	if len(waiting) == 0 {
		return nil
	}
	bookedIDs, err := c.repo.BookedAgentIDs(ctx)
	if err != nil {
		return fmt.Errorf("callqueue: list booked agents: %w", err)
	}
	booked := make(map[string]bool, len(bookedIDs))
	for _, id := range bookedIDs {
		booked[id] = true
	}

	for _, qc := range waiting {
		team, err := c.teams.Get(ctx, qc.TeamID)
		if err != nil {
			c.log.Error("dispatch: load team failed", "team_id", qc.TeamID, "err", err)
			continue
		}
		candidates, err := c.candidates(ctx, team, qc, booked)
		if err != nil {
			c.log.Error("dispatch: load candidates failed", "comm_id", qc.CommID, "err", err)
			continue
		}
		if len(candidates) == 0 {
			continue
		}
		if team.Strategy != teams.StrategyEverybody {
			candidates = candidates[:1]
		}
		for _, id := range c.fire(ctx, qc, candidates) {
			booked[id] = true
		}
	}
	return nil
}

// candidates lists the team's callable agents that are neither ringing for another queued
// call nor among the call's decliners, longest idle first.
func (c *Coordinator) candidates(ctx context.Context, team teams.Team, qc QueuedCall, booked map[string]bool) ([]agents.Agent, error) {
	ids, err := c.teams.MemberIDs(ctx, team.ID)
	if err != nil {
		return nil, err
	}
	callable, err := c.agents.CallableAgents(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := callable[:0]
	for _, a := range callable {
		if !booked[a.ID] && !qc.HasDeclined(a.ID) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StatusUpdatedAt.Equal(out[j].StatusUpdatedAt) {
			return out[i].StatusUpdatedAt.Before(out[j].StatusUpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// fire claims the call, moves the picked agents that are still Available to Busy and
// rings every endpoint of those. It returns the agents that got at least one leg.
func (c *Coordinator) fire(ctx context.Context, qc QueuedCall, picked []agents.Agent) []string {
	locked, err := c.repo.Lock(ctx, qc.CommID)
	if err != nil || !locked {
		c.log.Debug("queued call claimed elsewhere", "comm_id", qc.CommID, "err", err)
		return nil
	}

	pickedIDs := make([]string, 0, len(picked))
	for _, a := range picked {
		pickedIDs = append(pickedIDs, a.ID)
	}
	won, err := c.agents.UpdateStatusFrom(ctx, pickedIDs, agents.StatusAvailable, agents.StatusBusy)
	if err != nil {
		c.log.Error("mark queue agents busy failed", "agent_ids", pickedIDs, "err", err)
		c.unlock(ctx, qc.CommID)
		return nil
	}
	if len(won) == 0 {
		c.log.Debug("picked agents taken before firing", "comm_id", qc.CommID, "agent_ids", pickedIDs)
		c.unlock(ctx, qc.CommID)
		return nil
	}
	ids := make([]string, 0, len(won))
	for _, a := range won {
		ids = append(ids, a.ID)
	}
	targets, err := c.endpoints.ForAgents(ctx, ids)
	if err != nil {
		c.log.Error("resolve queue endpoints failed", "comm_id", qc.CommID, "err", err)
		c.releaser.Release(ctx, ids, "")
		c.unlock(ctx, qc.CommID)
		return nil
	}

	var fired, idle []string
	for _, id := range ids {
		n := 0
		for _, sip := range targets.SipByUser[id] {
			if c.placeLeg(ctx, qc, id, telephony.PlaceCallRequest{From: qc.From, SipUsername: sip}) {
				n++
			}
		}
		for _, number := range targets.NumbersByUser[id] {
			if c.placeLeg(ctx, qc, id, telephony.PlaceCallRequest{From: c.cfg.CallerID, Number: number, MachineDetection: true}) {
				n++
			}
		}
		if n > 0 {
			fired = append(fired, id)
		} else {
			idle = append(idle, id)
		}
	}
	c.releaser.Release(ctx, idle, "")
	if len(fired) == 0 {
		c.unlock(ctx, qc.CommID)
		return nil
	}
	c.log.Info("queued call fired", "comm_id", qc.CommID, "agent_ids", fired)
	c.notifyQueueChanged(ctx, qc.TeamID)
	return fired
}

func (c *Coordinator) placeLeg(ctx context.Context, qc QueuedCall, agentID string, req telephony.PlaceCallRequest) bool {
	req.AnswerURL = c.callbacks.QueueAgentAnswer(qc.CommID, agentID)
	req.StatusCallbackURL = c.callbacks.QueueAgentStatus(qc.CommID, agentID)
	req.RingTimeout = c.cfg.RingTimeout
	legID, err := c.ops.PlaceCall(ctx, req)
	if err != nil {
		c.log.Warn("place queue leg failed", "comm_id", qc.CommID, "agent_id", agentID, "err", err)
		return false
	}
	if err := c.repo.AddFiredLeg(ctx, qc.CommID, agentID, legID); err != nil {
		c.log.Warn("record fired leg failed, hanging up", "comm_id", qc.CommID, "leg_id", legID, "err", err)
		c.hangup(ctx, legID)
		return false
	}
	return true
}

func (c *Coordinator) unlock(ctx context.Context, commID string) {
	if _, err := c.repo.Unlock(ctx, commID, ""); err != nil && !errors.Is(err, ErrNotFound) {
		c.log.Warn("unlock queued call failed", "comm_id", commID, "err", err)
	}
}
