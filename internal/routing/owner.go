package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"leasing-telephony/internal/parties"
	"leasing-telephony/internal/teams"
	"leasing-telephony/pkg/logger"
)

// PartyOwners reads and assigns party owners.
type PartyOwners interface {
	Get(ctx context.Context, id string) (parties.Party, error)
	AssignOwner(ctx context.Context, partyID, userID, teamID string) (parties.Party, error)
}

// OwnerAssigner gives an unowned party an owner picked by the team strategy, so a missed
// call still lands in somebody's follow-up list.
type OwnerAssigner struct {
	engine  *Engine
	parties PartyOwners
	log     *slog.Logger
}

func NewOwnerAssigner(engine *Engine, partyRepo PartyOwners, log *slog.Logger) *OwnerAssigner {
	return &OwnerAssigner{engine: engine, parties: partyRepo, log: logger.OrDiscard(log)}
}

// AssignIfUnowned is a no-op for parties that already have an owner.
func (a *OwnerAssigner) AssignIfUnowned(ctx context.Context, partyID string, team teams.Team) error {
	if partyID == "" {
		return nil
	}
	p, err := a.parties.Get(ctx, partyID)
	if errors.Is(err, parties.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("routing: load party: %w", err)
	}
	if p.OwnerUserID != "" {
		return nil
	}

	owner, err := a.engine.DefaultOwner(ctx, team)
	if err != nil {
		return err
	}
	if owner == "" {
		a.log.Info("no agent to own party", "party_id", partyID, "team_id", team.ID)
		return nil
	}
	if _, err := a.parties.AssignOwner(ctx, partyID, owner, team.ID); err != nil {
		return fmt.Errorf("routing: assign party owner: %w", err)
	}
	a.log.Info("party owner assigned", "party_id", partyID, "user_id", owner, "team_id", team.ID)
	return nil
}

// DefaultOwner picks the agent a new party of team belongs to: the next round-robin agent
// for round-robin teams, the first active agent otherwise.
func (e *Engine) DefaultOwner(ctx context.Context, team teams.Team) (string, error) {
	active, err := e.activeAgentIDs(ctx, team.ID)
	if err != nil || len(active) == 0 {
		return "", err
	}
	if team.Strategy == teams.StrategyRoundRobin {
		next, err := e.teams.NextRoundRobin(ctx, team.ID, active)
		if err != nil {
			return "", fmt.Errorf("routing: round robin: %w", err)
		}
		return next, nil
	}
	return active[0], nil
}

// AssignTo makes userID the owner of partyID unless the party already has one.
func (a *OwnerAssigner) AssignTo(ctx context.Context, partyID, userID, teamID string) error {
	if partyID == "" || userID == "" {
		return nil
	}
	_, err := a.parties.AssignOwner(ctx, partyID, userID, teamID)
	if errors.Is(err, parties.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("routing: assign party owner: %w", err)
	}
	return nil
}
