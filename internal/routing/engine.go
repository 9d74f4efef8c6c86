package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"leasing-telephony/internal/agents"
	"leasing-telephony/internal/calls"
	"leasing-telephony/internal/parties"
	"leasing-telephony/internal/teams"
	"leasing-telephony/pkg/logger"
)

// AgentLookup loads agents by id.
type AgentLookup interface {
	Get(ctx context.Context, id string) (agents.Agent, error)
	GetMany(ctx context.Context, ids []string) ([]agents.Agent, error)
}

// Engine resolves who an inbound call is for. It never rings anything itself.
type Engine struct {
	teams  teams.Repository
	agents AgentLookup
	hours  *teams.HoursGate
	log    *slog.Logger
}

func NewEngine(teamRepo teams.Repository, agentLookup AgentLookup, hours *teams.HoursGate, log *slog.Logger) *Engine {
	if hours == nil {
		hours = teams.NewHoursGate(nil, log)
	}
	return &Engine{teams: teamRepo, agents: agentLookup, hours: hours, log: logger.OrDiscard(log)}
}

// ResolveTarget works out the team, program and addressed user of call. A call without
// an explicit target is resolved from the dialed number. Missing records yield NotFound;
// an unknown target type is an *InvalidTargetError.
func (e *Engine) ResolveTarget(ctx context.Context, call calls.InboundCall, callerParties []parties.Party) (Resolution, error) {
	if call.Target == "" {
		dialed, err := e.teams.ResolveDialedNumber(ctx, call.To)
		if errors.Is(err, teams.ErrNotFound) {
			return NotFound("dialed number not assigned"), nil
		}
		if err != nil {
			return Resolution{}, fmt.Errorf("routing: resolve dialed number: %w", err)
		}
		switch dialed.Kind {
		case teams.DialedProgram:
			call.Target = calls.TargetProgram
		case teams.DialedTeamMember:
			call.Target = calls.TargetTeamMember
		}
		call.TargetID = dialed.ID
	}

	t := Target{Call: call}
	var teamID string
	switch call.Target {
	case calls.TargetTeamMember:
		m, err := e.teams.GetMember(ctx, call.TargetID)
		if errors.Is(err, teams.ErrNotFound) {
			return NotFound("team member not found"), nil
		}
		if err != nil {
			return Resolution{}, fmt.Errorf("routing: load team member: %w", err)
		}
		teamID, t.UserID = m.TeamID, m.UserID
	case calls.TargetProgram:
		p, err := e.teams.GetProgram(ctx, call.TargetID)
		if errors.Is(err, teams.ErrNotFound) {
			return NotFound("program not found"), nil
		}
		if err != nil {
			return Resolution{}, fmt.Errorf("routing: load program: %w", err)
		}
		t.Program = &p
		teamID = p.TeamID
	case calls.TargetIndividual:
		t.UserID = call.TargetID
		id, err := e.teamForTransferToUser(ctx, call.TargetID, callerParties)
		if err != nil {
			return Resolution{}, err
		}
		if id == "" {
			return NotFound("user has no team"), nil
		}
		teamID = id
	case calls.TargetTeam:
		teamID = call.TargetID
	default:
		return Resolution{}, &InvalidTargetError{Type: call.Target}
	}

	team, err := e.teams.Get(ctx, teamID)
	if errors.Is(err, teams.ErrNotFound) {
		return NotFound("team not found"), nil
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("routing: load team: %w", err)
	}
	t.Team = team
	e.log.Info("call target resolved", "target", call.Target, "target_id", call.TargetID, "team_id", team.ID)
	return Found(t), nil
}

// teamForTransferToUser prefers the team owning one of the caller's parties when the user
// belongs to it, else the user's first team.
func (e *Engine) teamForTransferToUser(ctx context.Context, userID string, callerParties []parties.Party) (string, error) {
	userTeams, err := e.teams.ListForAgent(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("routing: load user teams: %w", err)
	}
	if len(userTeams) == 0 {
		return "", nil
	}
	member := make(map[string]bool, len(userTeams))
	for _, t := range userTeams {
		member[t.ID] = true
	}
	for _, p := range callerParties {
		if member[p.OwnerTeamID] {
			return p.OwnerTeamID, nil
		}
	}
	return userTeams[0].ID, nil
}

// IsOpen applies the office-hours gate to team.
func (e *Engine) IsOpen(ctx context.Context, team teams.Team) bool {
	return e.hours.IsOpen(ctx, team)
}

// Receivers computes the candidate receivers for the resolved target.
func (e *Engine) Receivers(ctx context.Context, t Target, callerParties []parties.Party) (Receivers, error) {
	if t.Call.Target == calls.TargetTeamMember || t.Call.Target == calls.TargetIndividual {
		a, err := e.agents.Get(ctx, t.UserID)
		switch {
		case err == nil && !a.Inactive:
			e.log.Info("routing call to individual user", "user_id", a.ID)
			return Receivers{Type: ReceiverIndividual, AgentIDs: []string{a.ID}, Team: t.Team}, nil
		case err != nil && !errors.Is(err, agents.ErrNotFound):
			return Receivers{}, fmt.Errorf("routing: load addressed user: %w", err)
		}
	}

	callCenter, err := e.CallCenterApplies(ctx, t.Team, callerParties)
	if err != nil {
		return Receivers{}, err
	}
	if callCenter {
		e.log.Info("routing call to call center", "team_id", t.Team.ID)
		return Receivers{Type: ReceiverCallCenter, Team: t.Team}, nil
	}

	exclude := t.Call.TransferredFromUserID
	if len(callerParties) == 0 {
		return e.byStrategy(ctx, t.Team, exclude)
	}

	narrowed := NarrowByProperty(callerParties, t.PropertyID())
	calledTeam, byStrategy, err := e.calledTeam(ctx, t, narrowed)
	if err != nil {
		return Receivers{}, err
	}
	if byStrategy {
		return e.byStrategy(ctx, calledTeam, exclude)
	}

	owners := ownerIDs(narrowed)
	if len(owners) == 0 {
		e.log.Info("caller parties have no owner, routing by strategy", "team_id", calledTeam.ID)
		return e.byStrategy(ctx, calledTeam, exclude)
	}
	e.log.Info("routing call to owners of the caller's parties", "user_ids", owners)
	if exclude == "" {
		return Receivers{Type: ReceiverTeamPool, AgentIDs: owners, Team: calledTeam}, nil
	}
	if rest := without(owners, exclude); len(rest) > 0 {
		return Receivers{Type: ReceiverTeamPool, AgentIDs: rest, Team: calledTeam}, nil
	}
	e.log.Info("party owner is the transfer originator, applying team strategy", "team_id", calledTeam.ID)
	return e.byStrategy(ctx, calledTeam, exclude)
}

// CallCenterApplies reports whether the call goes to a call center: the caller's party is
// owned by a call-center agent, or the team itself routes to one.
func (e *Engine) CallCenterApplies(ctx context.Context, team teams.Team, callerParties []parties.Party) (bool, error) {
	if len(callerParties) == 0 {
		return team.Strategy == teams.StrategyCallCenter, nil
	}
	owner := callerParties[0].OwnerUserID
	if owner == "" {
		return team.Strategy == teams.StrategyCallCenter, nil
	}
	ownerTeams, err := e.teams.ListForAgent(ctx, owner)
	if err != nil {
		return false, fmt.Errorf("routing: load owner teams: %w", err)
	}
	for _, ot := range ownerTeams {
		if ot.Strategy == teams.StrategyCallCenter {
			return true, nil
		}
	}
	return false, nil
}

// calledTeam is the transfer target team for transfers, else the owner team of the
// caller's first party. Team strategy applies for Everybody and RoundRobin teams, and for
// cross-team transfers.
func (e *Engine) calledTeam(ctx context.Context, t Target, narrowed []parties.Party) (teams.Team, bool, error) {
	ownerTeam := t.Team
	if len(narrowed) > 0 && narrowed[0].OwnerTeamID != "" && narrowed[0].OwnerTeamID != t.Team.ID {
		ot, err := e.teams.Get(ctx, narrowed[0].OwnerTeamID)
		switch {
		case err == nil:
			ownerTeam = ot
		case !errors.Is(err, teams.ErrNotFound):
			return teams.Team{}, false, fmt.Errorf("routing: load owner team: %w", err)
		}
	}

	called := ownerTeam
	crossTeam := false
	if t.Call.TransferredFromUserID != "" {
		called = t.Team
		crossTeam = t.Team.ID != ownerTeam.ID
	}
	byStrategy := called.Strategy == teams.StrategyEverybody || called.Strategy == teams.StrategyRoundRobin || crossTeam
	return called, byStrategy, nil
}

// OwnerTeam is the team owning the caller's parties within the target's property context,
// falling back to the target team.
func (e *Engine) OwnerTeam(ctx context.Context, t Target, callerParties []parties.Party) (teams.Team, error) {
	narrowed := NarrowByProperty(callerParties, t.PropertyID())
	if len(narrowed) == 0 || narrowed[0].OwnerTeamID == "" {
		return t.Team, nil
	}
	team, err := e.teams.Get(ctx, narrowed[0].OwnerTeamID)
	if errors.Is(err, teams.ErrNotFound) {
		return t.Team, nil
	}
	return team, err
}

// byStrategy applies the team strategy, excluding the transfer originator. When the
// exclusion empties the pick, the team is reloaded (the round-robin cursor lives on it)
// and the strategy runs once more.
func (e *Engine) byStrategy(ctx context.Context, team teams.Team, exclude string) (Receivers, error) {
	e.log.Info("routing call by team strategy", "team_id", team.ID, "strategy", team.Strategy)
	r, err := e.strategyReceivers(ctx, team)
	if err != nil || !r.Type.IsAgents() || exclude == "" {
		return r, err
	}
	if rest := without(r.AgentIDs, exclude); len(rest) > 0 || len(r.AgentIDs) == 0 {
		r.AgentIDs = rest
		return r, nil
	}

	e.log.Info("strategy picked the transfer originator, picking again", "team_id", team.ID)
	fresh, err := e.teams.Get(ctx, team.ID)
	if err != nil {
		return Receivers{}, fmt.Errorf("routing: reload team: %w", err)
	}
	r, err = e.strategyReceivers(ctx, fresh)
	if err != nil {
		return Receivers{}, err
	}
	r.AgentIDs = without(r.AgentIDs, exclude)
	return r, nil
}

func (e *Engine) strategyReceivers(ctx context.Context, team teams.Team) (Receivers, error) {
	if team.Strategy == teams.StrategyCallCenter {
		return Receivers{Type: ReceiverCallCenter, Team: team}, nil
	}
	active, err := e.activeAgentIDs(ctx, team.ID)
	if err != nil {
		return Receivers{}, err
	}
	switch team.Strategy {
	case teams.StrategyRoundRobin:
		if len(active) == 0 {
			return Receivers{Type: ReceiverTeamPool, Team: team}, nil
		}
		next, err := e.teams.NextRoundRobin(ctx, team.ID, active)
		if err != nil {
			return Receivers{}, fmt.Errorf("routing: round robin: %w", err)
		}
		return Receivers{Type: ReceiverTeamPool, AgentIDs: []string{next}, Team: team}, nil
	default:
		// Everybody, and Owner for callers who own nothing yet.
		return Receivers{Type: ReceiverTeamPool, AgentIDs: active, Team: team}, nil
	}
}

func (e *Engine) activeAgentIDs(ctx context.Context, teamID string) ([]string, error) {
	ids, err := e.teams.MemberIDs(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("routing: load team members: %w", err)
	}
	list, err := e.agents.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("routing: load team agents: %w", err)
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		if !a.Inactive {
			out = append(out, a.ID)
		}
	}
	return out, nil
}

// NarrowByProperty keeps the parties of propertyID when there are any.
func NarrowByProperty(ps []parties.Party, propertyID string) []parties.Party {
	if propertyID == "" {
		return ps
	}
	var out []parties.Party
	for _, p := range ps {
		if p.PropertyID == propertyID {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return ps
	}
	return out
}

func ownerIDs(ps []parties.Party) []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range ps {
		if p.OwnerUserID != "" && !seen[p.OwnerUserID] {
			seen[p.OwnerUserID] = true
			out = append(out, p.OwnerUserID)
		}
	}
	return out
}

func without(ids []string, exclude string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}
