// Package endpoints works out which of an agent's phones can be rung right now.
package endpoints

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"leasing-telephony/internal/agents"
	"leasing-telephony/internal/telephony"
	"leasing-telephony/internal/teams"
	"leasing-telephony/pkg/logger"
)

// Presence reports whether a user has the web app open somewhere.
type Presence interface {
	HasLiveConnection(ctx context.Context, userID string) bool
}

// AgentSource loads agents by id, in the order given.
type AgentSource interface {
	GetMany(ctx context.Context, ids []string) ([]agents.Agent, error)
}

// lookupLimit bounds concurrent registration lookups for one agent.
const lookupLimit = 8

type Resolver struct {
	ops      telephony.Ops
	presence Presence
	agents   AgentSource
	log      *slog.Logger
}

func NewResolver(ops telephony.Ops, presence Presence, src AgentSource, log *slog.Logger) *Resolver {
	return &Resolver{ops: ops, presence: presence, agents: src, log: logger.OrDiscard(log)}
}

// OnlineSipEndpoints returns the agent's registered endpoints. An in-app endpoint only
// counts while the agent holds a live app connection. A failed lookup marks that
// endpoint offline and never aborts the rest.
func (r *Resolver) OnlineSipEndpoints(ctx context.Context, a agents.Agent) []agents.SipEndpoint {
	if len(a.SipEndpoints) == 0 {
		return nil
	}

	registered := make([]bool, len(a.SipEndpoints))
	var g errgroup.Group
	g.SetLimit(lookupLimit)
	for i, ep := range a.SipEndpoints {
		i, ep := i, ep
		g.Go(func() error {
			res, err := r.ops.GetEndpoint(ctx, ep.Username)
			if err != nil {
				r.log.Warn("endpoint lookup failed, treating as offline", "agent_id", a.ID, "endpoint", ep.Username, "err", err)
				return nil
			}
			registered[i] = res.Registered
			return nil
		})
	}
	_ = g.Wait()

	var (
		out   []agents.SipEndpoint
		inApp *bool
	)
	for i, ep := range a.SipEndpoints {
		if !registered[i] {
			continue
		}
		if ep.UsedInApp {
			if inApp == nil {
				connected := r.presence != nil && r.presence.HasLiveConnection(ctx, a.ID)
				inApp = &connected
			}
			if !*inApp {
				continue
			}
		}
		out = append(out, ep)
	}
	return out
}

// Targets is the flattened set of things to ring for one call.
type Targets struct {
	UserIDs      []string
	SipUsernames []string
	Numbers      []string
	// SipByUser keeps which SIP usernames were offered for which agent.
	SipByUser map[string][]string
	// NumbersByUser keeps which ring phones were offered for which agent.
	NumbersByUser map[string][]string
}

func (t Targets) Empty() bool { return len(t.SipUsernames) == 0 && len(t.Numbers) == 0 }

// ForCallCenter rings the team's shared call-center number and nothing else.
func (r *Resolver) ForCallCenter(team teams.Team) Targets {
	if team.CallCenterPhone == "" {
		return Targets{}
	}
	return Targets{Numbers: []string{team.CallCenterPhone}}
}

// ForAgents resolves every agent's online endpoints and ring phones.
func (r *Resolver) ForAgents(ctx context.Context, agentIDs []string) (Targets, error) {
	list, err := r.agents.GetMany(ctx, agentIDs)
	if err != nil {
		return Targets{}, err
	}
	t := Targets{SipByUser: map[string][]string{}, NumbersByUser: map[string][]string{}}
	for _, a := range list {
		t.UserIDs = append(t.UserIDs, a.ID)
		for _, ep := range r.OnlineSipEndpoints(ctx, a) {
			t.SipUsernames = append(t.SipUsernames, ep.Username)
			t.SipByUser[a.ID] = append(t.SipByUser[a.ID], ep.Username)
		}
		for _, n := range a.RingPhones {
			t.Numbers = append(t.Numbers, n)
			t.NumbersByUser[a.ID] = append(t.NumbersByUser[a.ID], n)
		}
	}
	return t, nil
}

// OwnerOf finds the agent a SIP username or ring phone was offered for.
func (t Targets) OwnerOf(target string) (string, bool) {
	for id, list := range t.SipByUser {
		for _, u := range list {
			if u == target {
				return id, true
			}
		}
	}
	for id, list := range t.NumbersByUser {
		for _, n := range list {
			if n == target {
				return id, true
			}
		}
	}
	return "", false
}
