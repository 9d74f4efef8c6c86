// Package parties holds the prospect records inbound calls are attached to.
package parties

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("parties: not found")

// Party is a prospect (lead) and the agent and team that own it.
type Party struct {
	ID          string    `json:"id" db:"id"`
	CallerPhone string    `json:"caller_phone" db:"caller_phone"`
	OwnerUserID string    `json:"owner_user_id,omitempty" db:"owner_user_id"`
	OwnerTeamID string    `json:"owner_team_id,omitempty" db:"owner_team_id"`
	PropertyID  string    `json:"property_id,omitempty" db:"property_id"`
	Closed      bool      `json:"closed" db:"closed"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

type Repository interface {
	Get(ctx context.Context, id string) (Party, error)
	// FindOpenByPhone lists the open parties of the caller, oldest first.
	FindOpenByPhone(ctx context.Context, phone string) ([]Party, error)
	Create(ctx context.Context, p Party) (Party, error)
	// AssignOwner sets the owner only if the party has none and returns the stored party.
	AssignOwner(ctx context.Context, partyID, userID, teamID string) (Party, error)
}
