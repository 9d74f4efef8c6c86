package callqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leasing-telephony/internal/calls"
	"leasing-telephony/internal/teams"
	"leasing-telephony/internal/telephony"
)

// TimeExpired sends the caller to voicemail once they waited the team's time limit. A call
// claimed by a firing round is left alone; the round re-checks the limit when it ends.
func (c *Coordinator) TimeExpired(ctx context.Context, commID string) error {
	qc, removed, err := c.repo.RemoveUnlessLocked(ctx, commID)
	if err != nil {
		return fmt.Errorf("callqueue: remove expired call: %w", err)
	}
	if !removed {
		c.log.Debug("queue time limit reached while ringing or gone", "comm_id", commID)
		return nil
	}
	c.log.Info("queue time limit reached", "comm_id", commID, "team_id", qc.TeamID)
	c.toVoicemail(ctx, qc, calls.MissedQueueTimeExpired, telephony.MessageCallQueueUnavailable)
	return nil
}

func (c *Coordinator) declinedByAll(ctx context.Context, qc QueuedCall, team teams.Team) error {
	qc, removed, err := c.repo.Remove(ctx, qc.CommID)
	if err != nil {
		return fmt.Errorf("callqueue: remove declined call: %w", err)
	}
	if !removed {
		return nil
	}
	c.log.Info("queued call declined by every online agent", "comm_id", qc.CommID, "team_id", team.ID)
	if c.parties != nil {
		if err := c.parties.AssignIfUnowned(ctx, qc.PartyID, team); err != nil {
			c.log.Warn("assign party owner failed", "party_id", qc.PartyID, "err", err)
		}
	}
	c.toVoicemail(ctx, qc, calls.MissedQueueDeclinedByAll, telephony.MessageCallQueueUnavailable)
	return nil
}

// TeamsOffline empties the queues of teams whose agents all signed off.
func (c *Coordinator) TeamsOffline(ctx context.Context, teamIDs []string) error {
	return c.clearTeams(ctx, teamIDs, calls.MissedQueueAgentsOffline, telephony.MessageCallQueueUnavailable)
}

// EndOfDay empties the queues of teams that just closed.
func (c *Coordinator) EndOfDay(ctx context.Context, teamIDs []string) error {
	return c.clearTeams(ctx, teamIDs, calls.MissedQueueEndOfDay, telephony.MessageCallQueueClosing)
}

func (c *Coordinator) clearTeams(ctx context.Context, teamIDs []string, reason calls.MissedReason, kind telephony.MessageKind) error {
	for _, teamID := range teamIDs {
		list, err := c.repo.ListByTeam(ctx, teamID)
		if err != nil {
			return fmt.Errorf("callqueue: list team calls: %w", err)
		}
		for _, q := range list {
			qc, removed, err := c.repo.Remove(ctx, q.CommID)
			if err != nil {
				c.log.Error("remove queued call failed", "comm_id", q.CommID, "err", err)
				continue
			}
			if removed {
				c.log.Info("queued call cleared", "comm_id", qc.CommID, "team_id", teamID, "reason", reason)
				c.toVoicemail(ctx, qc, reason, kind)
			}
		}
	}
	return nil
}

// CallerHungUp handles the caller leaving while still queued.
func (c *Coordinator) CallerHungUp(ctx context.Context, externalCallID string) error {
	found, err := c.repo.GetByExternalCall(ctx, externalCallID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("callqueue: find queued call: %w", err)
	}
	qc, removed, err := c.repo.Remove(ctx, found.CommID)
	if err != nil {
		return fmt.Errorf("callqueue: remove abandoned call: %w", err)
	}
	if !removed {
		return nil
	}
	c.log.Info("queued caller hung up", "comm_id", qc.CommID, "team_id", qc.TeamID)
	c.releaseLegs(ctx, qc)
	c.recordOutcome(ctx, qc.CommID, calls.OutcomeMissed, calls.MissedQueueHungUp)
	c.releaser.CloseCommunication(ctx, qc.CommID, c.now().UTC())
	c.notifyQueueChanged(ctx, qc.TeamID)
	return nil
}

// CallbackRequested takes the caller out of the queue after they asked to be called back.
func (c *Coordinator) CallbackRequested(ctx context.Context, commID string) (telephony.Response, error) {
	qc, removed, err := c.repo.Remove(ctx, commID)
	if err != nil {
		return telephony.Response{}, fmt.Errorf("callqueue: remove call: %w", err)
	}
	if removed {
		c.log.Info("queued caller requested a callback", "comm_id", commID)
		c.releaseLegs(ctx, qc)
		c.recordOutcome(ctx, commID, calls.OutcomeMissed, calls.MissedCallbackRequested)
		c.notifyQueueChanged(ctx, qc.TeamID)
	}
	return telephony.NewResponse(telephony.Message{Kind: telephony.MessageCallbackRequested}, telephony.Hangup{}), nil
}

// VoicemailRequested takes the caller out of the queue to leave a message.
func (c *Coordinator) VoicemailRequested(ctx context.Context, commID string) (telephony.Response, error) {
	qc, removed, err := c.repo.Remove(ctx, commID)
	if err != nil {
		return telephony.Response{}, fmt.Errorf("callqueue: remove call: %w", err)
	}
	if removed {
		c.log.Info("queued caller chose voicemail", "comm_id", commID)
		c.releaseLegs(ctx, qc)
		c.recordOutcome(ctx, commID, calls.OutcomeVoicemail, "")
		c.notifyQueueChanged(ctx, qc.TeamID)
	}
	return telephony.VoicemailResponse(telephony.MessageVoicemail, commID), nil
}

// toVoicemail stops every leg of a removed call, records the miss and moves the caller to
// the voicemail treatment.
func (c *Coordinator) toVoicemail(ctx context.Context, qc QueuedCall, reason calls.MissedReason, kind telephony.MessageKind) {
	c.releaseLegs(ctx, qc)
	c.recordOutcome(ctx, qc.CommID, calls.OutcomeMissed, reason)
	if err := c.ops.TransferCall(ctx, qc.ExternalCallID, c.callbacks.Voicemail(kind, qc.CommID)); err != nil {
		c.log.Warn("redirect queued caller to voicemail failed", "comm_id", qc.CommID, "err", err)
	}
	c.notifyQueueChanged(ctx, qc.TeamID)
}

func (c *Coordinator) releaseLegs(ctx context.Context, qc QueuedCall) {
	for _, l := range qc.AllLegs() {
		c.hangup(ctx, l)
	}
	c.releaser.Release(ctx, qc.FiredAgentIDs(), "")
}

func (c *Coordinator) recordOutcome(ctx context.Context, commID string, outcome calls.Outcome, reason calls.MissedReason) {
	if _, err := c.comms.RecordOutcome(ctx, commID, outcome, reason); err != nil {
		c.log.Error("record call outcome failed", "comm_id", commID, "outcome", outcome, "err", err)
	}
}

// SweepEndOfDay clears the queues of teams outside office hours.
func (c *Coordinator) SweepEndOfDay(ctx context.Context) error {
	teamIDs, err := c.repo.TeamIDs(ctx)
	if err != nil {
		return fmt.Errorf("callqueue: list queued teams: %w", err)
	}
	var closed []string
	for _, id := range teamIDs {
		team, err := c.teams.Get(ctx, id)
		if err != nil {
			c.log.Warn("end of day: load team failed", "team_id", id, "err", err)
			continue
		}
		if !c.hours.IsOpen(ctx, team) {
			closed = append(closed, id)
		}
	}
	if len(closed) == 0 {
		return nil
	}
	return c.EndOfDay(ctx, closed)
}

// RunEndOfDaySweeper sweeps every interval until ctx ends.
func (c *Coordinator) RunEndOfDaySweeper(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := c.SweepEndOfDay(ctx); err != nil {
				c.log.Error("end of day sweep failed", "err", err)
			}
		}
	}
}
