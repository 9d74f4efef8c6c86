package calls

import (
	"context"
	"log/slog"
	"time"

	"leasing-telephony/internal/agents"
	"leasing-telephony/internal/telephony"
	"leasing-telephony/pkg/logger"
)

// FiredLegs lists the queue legs currently fired to an agent.
type FiredLegs interface {
	LegsForAgent(ctx context.Context, agentID string) ([]string, error)
}

// Releaser frees agents once a call no longer needs them, unless they are still on
// another live call or winding down from one.
type Releaser struct {
	agents *agents.Store
	comms  Repository
	ops    telephony.Ops
	fired  FiredLegs
	log    *slog.Logger
}

func NewReleaser(store *agents.Store, comms Repository, ops telephony.Ops, fired FiredLegs, log *slog.Logger) *Releaser {
	return &Releaser{agents: store, comms: comms, ops: ops, fired: fired, log: logger.OrDiscard(log)}
}

// SetFiredLegs wires the queue's fired-leg table after construction.
func (r *Releaser) SetFiredLegs(f FiredLegs) { r.fired = f }

// Release reconciles each agent (Available, or NotAvailable under a manual override)
// unless the guard keeps them busy. endingCallID is the call being torn down and is
// ignored when looking for other live calls.
func (r *Releaser) Release(ctx context.Context, agentIDs []string, endingCallID string) []string {
	if len(agentIDs) == 0 {
		return nil
	}

	live := r.liveCallIDs(ctx)
	var released []string
	for _, id := range agentIDs {
		a, err := r.agents.Get(ctx, id)
		if err != nil {
			r.log.Warn("release: agent lookup failed", "agent_id", id, "err", err)
			continue
		}
		if a.Status == agents.StatusBusy && a.WrapUpTimerID != "" {
			r.log.Debug("release skipped, agent in wrap-up", "agent_id", id)
			continue
		}
		if r.inAnotherLiveCall(ctx, id, endingCallID, live) {
			r.log.Info("release skipped, agent on another live call", "agent_id", id, "ending_call_id", endingCallID)
			continue
		}
		if _, err := r.agents.Reconcile(ctx, id); err != nil {
			r.log.Error("release: reconcile failed", "agent_id", id, "err", err)
			continue
		}
		released = append(released, id)
	}
	return released
}

// InAnotherLiveCall reports whether the agent is party to a live call other than
// endingCallID.
func (r *Releaser) InAnotherLiveCall(ctx context.Context, agentID, endingCallID string) bool {
	return r.inAnotherLiveCall(ctx, agentID, endingCallID, r.liveCallIDs(ctx))
}

func (r *Releaser) liveCallIDs(ctx context.Context) map[string]bool {
	out := map[string]bool{}
	if r.ops == nil {
		return out
	}
	calls, err := r.ops.LiveCalls(ctx)
	if err != nil {
		r.log.Warn("live calls lookup failed", "err", err)
		return out
	}
	for _, c := range calls {
		out[c.ID] = true
	}
	return out
}

func (r *Releaser) inAnotherLiveCall(ctx context.Context, agentID, endingCallID string, live map[string]bool) bool {
	if r.fired != nil {
		legs, err := r.fired.LegsForAgent(ctx, agentID)
		if err != nil {
			r.log.Warn("fired legs lookup failed", "agent_id", agentID, "err", err)
		}
		for _, leg := range legs {
			if leg != endingCallID && live[leg] {
				return true
			}
		}
	}
	if r.comms == nil {
		return false
	}
	open, err := r.comms.OpenForAgent(ctx, agentID)
	if err != nil {
		r.log.Warn("open communications lookup failed", "agent_id", agentID, "err", err)
		return false
	}
	for _, c := range open {
		if c.ExternalCallID == endingCallID || !live[c.ExternalCallID] {
			continue
		}
		if c.UserID == agentID {
			return true
		}
		if !c.Answered {
			if _, offered := c.Receivers[agentID]; offered {
				return true
			}
		}
	}
	return false
}

// CloseCommunication marks the communication ended so it no longer counts as open.
func (r *Releaser) CloseCommunication(ctx context.Context, commID string, at time.Time) {
	if commID == "" || r.comms == nil {
		return
	}
	if err := r.comms.MarkEnded(ctx, commID, at); err != nil {
		r.log.Warn("mark communication ended failed", "comm_id", commID, "err", err)
	}
}
