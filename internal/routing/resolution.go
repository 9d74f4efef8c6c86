package routing

import (
	"errors"
	"fmt"

	"leasing-telephony/internal/calls"
	"leasing-telephony/internal/teams"
)

// ErrInvalidTargetType marks a call whose target type routing does not know.
var ErrInvalidTargetType = errors.New("routing: invalid call target type")

// InvalidTargetError is a routing configuration error. The caller hears the
// "target not found" treatment; the call is never silently misrouted.
type InvalidTargetError struct {
	Type calls.TargetType
}

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("routing: invalid call target type %q", e.Type)
}

func (e *InvalidTargetError) Unwrap() error { return ErrInvalidTargetType }

// Target is the resolved context of an inbound call.
type Target struct {
	Call    calls.InboundCall
	Team    teams.Team
	Program *teams.Program
	// UserID is the addressed agent for team-member and individual targets.
	UserID string
}

// PropertyID is the property context used to narrow the caller's parties.
func (t Target) PropertyID() string {
	if t.Program == nil {
		return ""
	}
	return t.Program.PropertyID
}

// Resolution is Found(target) or NotFound(reason).
type Resolution struct {
	found  bool
	target Target
	reason string
}

func Found(t Target) Resolution { return Resolution{found: true, target: t} }

func NotFound(reason string) Resolution { return Resolution{reason: reason} }

func (r Resolution) Target() (Target, bool) { return r.target, r.found }

func (r Resolution) Reason() string { return r.reason }

// ReceiverType says how a call is rung.
type ReceiverType string

const (
	// ReceiverIndividual rings one addressed agent, bypassing the team strategy.
	ReceiverIndividual ReceiverType = "individual"
	// ReceiverTeamPool rings agents picked by the team strategy or party ownership.
	ReceiverTeamPool ReceiverType = "team_pool"
	// ReceiverCallCenter rings the team's shared external number.
	ReceiverCallCenter ReceiverType = "call_center"
)

// IsAgents reports whether the receivers are agents, as opposed to a call center.
func (t ReceiverType) IsAgents() bool { return t != ReceiverCallCenter }

// Receivers is the candidate set for one routing decision. It is recomputed on every
// attempt and never stored.
type Receivers struct {
	Type     ReceiverType
	AgentIDs []string
	// Team is the called team: the target team, or the caller's owner team.
	Team teams.Team
}
