// Package callqueue holds inbound calls on a team's hold queue and fires them at agents
// until one answers, every candidate declines, or the caller gives up.
package callqueue

import (
	"context"
	"errors"
	"sort"
	"time"
)

var ErrNotFound = errors.New("callqueue: not found")

// QueuedCall is a caller waiting in a team queue.
type QueuedCall struct {
	CommID         string `json:"comm_id" db:"comm_id"`
	TeamID         string `json:"team_id" db:"team_id"`
	ExternalCallID string `json:"external_call_id" db:"external_call_id"`
	From           string `json:"from" db:"from_number"`
	PartyID        string `json:"party_id,omitempty" db:"party_id"`

	// Locked is set while a firing round owns the call.
	Locked     bool     `json:"locked" db:"locked"`
	DeclinedBy []string `json:"declined_by,omitempty" db:"declined_by"`
	// FiredLegs maps each agent to the provider legs ringing for this call.
	FiredLegs map[string][]string `json:"fired_legs,omitempty" db:"-"`

	EnqueuedAt time.Time `json:"enqueued_at" db:"enqueued_at"`
}

func (q QueuedCall) HasDeclined(agentID string) bool {
	for _, id := range q.DeclinedBy {
		if id == agentID {
			return true
		}
	}
	return false
}

func (q QueuedCall) LegCount() int {
	n := 0
	for _, legs := range q.FiredLegs {
		n += len(legs)
	}
	return n
}

// FiredAgentIDs lists the agents with legs on this call, sorted.
func (q QueuedCall) FiredAgentIDs() []string {
	out := make([]string, 0, len(q.FiredLegs))
	for id, legs := range q.FiredLegs {
		if len(legs) > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// AllLegs lists every leg of the call, sorted.
func (q QueuedCall) AllLegs() []string {
	var out []string
	for _, legs := range q.FiredLegs {
		out = append(out, legs...)
	}
	sort.Strings(out)
	return out
}

// Expired reports whether the caller has waited longer than limit. A zero limit never
// expires.
func (q QueuedCall) Expired(limit time.Duration, now time.Time) bool {
	return limit > 0 && !now.Before(q.EnqueuedAt.Add(limit))
}

type Repository interface {
	Add(ctx context.Context, q QueuedCall) error
	Get(ctx context.Context, commID string) (QueuedCall, error)
	GetByExternalCall(ctx context.Context, externalCallID string) (QueuedCall, error)

	// ListWaiting lists unlocked calls of teamIDs (all teams when empty), oldest first.
	ListWaiting(ctx context.Context, teamIDs []string) ([]QueuedCall, error)
	// ListByTeam lists every call of the team, oldest first.
	ListByTeam(ctx context.Context, teamID string) ([]QueuedCall, error)
	TeamIDs(ctx context.Context) ([]string, error)

	// Remove deletes the call with its legs. removed is false when it was already gone.
	Remove(ctx context.Context, commID string) (q QueuedCall, removed bool, err error)
	// RemoveUnlessLocked deletes the call only while no firing round owns it.
	RemoveUnlessLocked(ctx context.Context, commID string) (q QueuedCall, removed bool, err error)

	// Lock claims the call for a firing round; false when already claimed.
	Lock(ctx context.Context, commID string) (bool, error)
	// Unlock releases the call and records declinedBy, if set, as a decliner.
	Unlock(ctx context.Context, commID, declinedBy string) (QueuedCall, error)
	AddDecliner(ctx context.Context, commID, agentID string) error

	AddFiredLeg(ctx context.Context, commID, agentID, legID string) error
	RemoveFiredLeg(ctx context.Context, commID, legID string) (QueuedCall, error)
	// RemoveAgentLegs drops every leg of the agent on this call and returns them.
	RemoveAgentLegs(ctx context.Context, commID, agentID string) ([]string, error)
	// LegsForAgent lists the agent's legs across all queued calls.
	LegsForAgent(ctx context.Context, agentID string) ([]string, error)
	// BookedAgentIDs lists agents with at least one fired leg on any queued call.
	BookedAgentIDs(ctx context.Context) ([]string, error)
}
