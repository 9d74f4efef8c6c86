package callqueue

import (
	"context"
	"errors"
	"fmt"

	"leasing-telephony/internal/agents"
	"leasing-telephony/internal/notify"
	"leasing-telephony/internal/telephony"
)

// AgentAnswered handles an agent picking up a leg and returns what that leg does next.
// The communication's answered flag is claimed with a compare-and-set, so exactly one leg
// wins; losers are hung up and their agent released. The winner's caller is moved from
// hold into a conference room, and a failed move gives the answer back.
func (c *Coordinator) AgentAnswered(ctx context.Context, commID, agentID, legID string) (telephony.Response, error) {
	hangup := telephony.NewResponse(telephony.Hangup{})

	qc, err := c.repo.Get(ctx, commID)
	if errors.Is(err, ErrNotFound) {
		c.log.Info("queued call gone before agent answered", "comm_id", commID, "agent_id", agentID)
		c.releaser.Release(ctx, []string{agentID}, legID)
		return hangup, nil
	}
	if err != nil {
		return hangup, fmt.Errorf("callqueue: load queued call: %w", err)
	}

	comm, won, err := c.comms.MarkAnswered(ctx, commID, agentID)
	if err != nil {
		return hangup, fmt.Errorf("callqueue: mark answered: %w", err)
	}
	if !won {
		c.log.Info("queued call already answered", "comm_id", commID, "agent_id", agentID, "answered_by", comm.UserID)
		c.dropLeg(ctx, commID, agentID, legID)
		return hangup, nil
	}

	room := "queue-" + commID
	if err := c.ops.TransferCall(ctx, qc.ExternalCallID, c.callbacks.QueueBridge(commID, room)); err != nil {
		c.log.Warn("bridging queued caller failed", "comm_id", commID, "agent_id", agentID, "err", err)
		if err := c.comms.ReleaseAnswer(ctx, commID, agentID); err != nil {
			c.log.Error("release answer failed", "comm_id", commID, "agent_id", agentID, "err", err)
		}
		c.dropLeg(ctx, commID, agentID, legID)
		if !telephony.IsLive(ctx, c.ops, qc.ExternalCallID) {
			return hangup, c.CallerHungUp(ctx, qc.ExternalCallID)
		}
		return hangup, c.afterLegGone(ctx, commID, "")
	}

	qc, removed, err := c.repo.Remove(ctx, commID)
	if err != nil {
		c.log.Error("remove answered call from queue failed", "comm_id", commID, "err", err)
	}
	var others []string
	if removed {
		for id, legs := range qc.FiredLegs {
			for _, l := range legs {
				if l != legID {
					c.hangup(ctx, l)
				}
			}
			if id != agentID {
				others = append(others, id)
			}
		}
	}
	c.releaser.Release(ctx, others, "")
	c.log.Info("queued call answered", "comm_id", commID, "agent_id", agentID, "room", room)

	if c.notifier != nil {
		c.notifier.Notify(ctx, notify.Message{
			Event:   notify.EventCallAnswered,
			Data:    map[string]any{"commId": commID, "userId": agentID},
			Routing: notify.Routing{Users: []string{agentID}},
		})
		if len(others) > 0 {
			c.notifier.Notify(ctx, notify.Message{
				Event:   notify.EventCallAnsweredElsewhere,
				Data:    map[string]any{"commId": commID, "answeredBy": agentID},
				Routing: notify.Routing{Users: others},
			})
		}
	}
	c.notifyQueueChanged(ctx, qc.TeamID)
	return c.BridgeResponse(commID, room), nil
}

// MachineAnswered handles a leg picked up by voicemail or a fax. The leg is hung up and
// forgotten without claiming the answer, and the call goes back for another round once
// none of its legs ring.
func (c *Coordinator) MachineAnswered(ctx context.Context, commID, agentID, legID string) (telephony.Response, error) {
	hangup := telephony.NewResponse(telephony.Hangup{})
	c.log.Info("queue leg answered by machine", "comm_id", commID, "agent_id", agentID, "leg_id", legID)
	if _, err := c.repo.RemoveFiredLeg(ctx, commID, legID); err != nil && !errors.Is(err, ErrNotFound) {
		return hangup, fmt.Errorf("callqueue: remove fired leg: %w", err)
	}
	c.releaseIfIdle(ctx, agentID, legID)
	return hangup, c.afterLegGone(ctx, commID, "")
}

// dropLeg forgets a leg that lost or failed, hangs it up and releases its agent when it
// was their last.
func (c *Coordinator) dropLeg(ctx context.Context, commID, agentID, legID string) {
	if _, err := c.repo.RemoveFiredLeg(ctx, commID, legID); err != nil && !errors.Is(err, ErrNotFound) {
		c.log.Warn("remove fired leg failed", "comm_id", commID, "leg_id", legID, "err", err)
	}
	c.hangup(ctx, legID)
	c.releaseIfIdle(ctx, agentID, legID)
}

func (c *Coordinator) releaseIfIdle(ctx context.Context, agentID, legID string) {
	legs, err := c.repo.LegsForAgent(ctx, agentID)
	if err != nil {
		c.log.Warn("fired legs lookup failed", "agent_id", agentID, "err", err)
		return
	}
	if len(legs) == 0 {
		c.releaser.Release(ctx, []string{agentID}, legID)
	}
}

// AgentLegStatus dispatches a status callback of a leg fired at agentID.
func (c *Coordinator) AgentLegStatus(ctx context.Context, commID, agentID string, ev telephony.CallEvent) error {
	out := ev.Leg()
	c.log.Debug("queue leg status", "comm_id", commID, "agent_id", agentID, "leg_id", ev.CallSid, "kind", out.Kind, "cause", out.Cause)
	switch out.Kind {
	case telephony.LegDeclined:
		return c.AgentDeclined(ctx, commID, agentID, ev.CallSid, out.Cause)
	case telephony.LegHungUp:
		return c.AgentLegHungUp(ctx, commID, agentID, ev.CallSid)
	case telephony.LegEnded:
		return c.AgentLegEnded(ctx, commID, agentID, ev.CallSid)
	}
	return nil
}

// countsAgainstAgent reports whether a decline means the agent is away. A busy device or
// a leg we cancelled ourselves does not.
func countsAgainstAgent(cause telephony.DeclineCause) bool {
	return cause == telephony.CauseNoAnswer || cause == telephony.CauseRejected
}

// AgentDeclined handles a leg the agent did not take. The agent's other devices stop
// ringing for this call, the agent joins the call's decliners, and once no legs remain the
// call is released for another round.
func (c *Coordinator) AgentDeclined(ctx context.Context, commID, agentID, legID string, cause telephony.DeclineCause) error {
	legs, err := c.repo.RemoveAgentLegs(ctx, commID, agentID)
	if errors.Is(err, ErrNotFound) {
		c.releaseIfIdle(ctx, agentID, legID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("callqueue: remove agent legs: %w", err)
	}
	for _, l := range legs {
		if l != legID {
			c.hangup(ctx, l)
		}
	}
	if err := c.repo.AddDecliner(ctx, commID, agentID); err != nil && !errors.Is(err, ErrNotFound) {
		c.log.Warn("record decliner failed", "comm_id", commID, "agent_id", agentID, "err", err)
	}
	c.log.Info("queued call declined", "comm_id", commID, "agent_id", agentID, "cause", cause)

	remaining, err := c.repo.LegsForAgent(ctx, agentID)
	if err != nil {
		c.log.Warn("fired legs lookup failed", "agent_id", agentID, "err", err)
		return c.afterLegGone(ctx, commID, agentID)
	}
	switch {
	case len(remaining) > 0:
		c.log.Debug("agent still ringing for other queued calls", "agent_id", agentID, "legs", len(remaining))
	case countsAgainstAgent(cause):
		if _, err := c.agents.UpdateStatus(ctx, []string{agentID}, agents.StatusNotAvailable, true); err != nil {
			c.log.Error("mark agent not available failed", "agent_id", agentID, "err", err)
		}
	default:
		c.releaser.Release(ctx, []string{agentID}, legID)
	}
	return c.afterLegGone(ctx, commID, agentID)
}

// AgentLegHungUp handles a leg that ended without a conversation, or that a machine
// picked up. A leg still up is hung up.
func (c *Coordinator) AgentLegHungUp(ctx context.Context, commID, agentID, legID string) error {
	if _, err := c.repo.RemoveFiredLeg(ctx, commID, legID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("callqueue: remove fired leg: %w", err)
	}
	if telephony.IsLive(ctx, c.ops, legID) {
		c.hangup(ctx, legID)
	}
	c.releaseIfIdle(ctx, agentID, legID)
	return c.afterLegGone(ctx, commID, "")
}

// AgentLegEnded handles the end of a leg that talked. The agent who owns the call starts
// wrap-up; anyone else is treated as a plain hangup.
func (c *Coordinator) AgentLegEnded(ctx context.Context, commID, agentID, legID string) error {
	comm, err := c.comms.Get(ctx, commID)
	if err != nil {
		return fmt.Errorf("callqueue: load communication: %w", err)
	}
	if !comm.Answered || comm.UserID != agentID {
		return c.AgentLegHungUp(ctx, commID, agentID, legID)
	}
	c.releaser.CloseCommunication(ctx, commID, c.now().UTC())
	return c.wrapUp.StartWrapUp(ctx, agentID, comm.TeamID)
}

// afterLegGone releases the call for another round once none of its legs ring and nobody
// answered it.
func (c *Coordinator) afterLegGone(ctx context.Context, commID, declinedBy string) error {
	qc, err := c.repo.Get(ctx, commID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if qc.LegCount() > 0 {
		return nil
	}
	comm, err := c.comms.Get(ctx, commID)
	if err != nil {
		return fmt.Errorf("callqueue: load communication: %w", err)
	}
	if comm.Answered {
		return nil
	}
	return c.ReadyForDequeue(ctx, commID, declinedBy)
}
