package agents

import (
	"context"
	"time"
)

// Repository persists agents and their availability. Every mutation is atomic per agent.
type Repository interface {
	Get(ctx context.Context, id string) (Agent, error)
	// GetMany returns the agents found, in the order requested. Unknown ids are skipped.
	GetMany(ctx context.Context, ids []string) ([]Agent, error)

	// UpdateStatus sets status on every listed agent whose current status differs and
	// returns only the agents that changed, as stored after the update. An automatic
	// Available skips agents under a manual NotAvailable override.
	UpdateStatus(ctx context.Context, ids []string, status Status, manual bool, at time.Time) ([]StatusChange, error)

	// UpdateStatusFrom moves only the listed agents currently in from to status and
	// returns those that moved.
	UpdateStatusFrom(ctx context.Context, ids []string, from, status Status, at time.Time) ([]StatusChange, error)

	// Reconcile reads the override flag and moves the agent to its resolved status in one
	// atomic step. changed is false when the agent was already there.
	Reconcile(ctx context.Context, id string, at time.Time) (change StatusChange, changed bool, err error)

	// SetTimer installs timerID as the agent's current timer of kind, replacing any other.
	SetTimer(ctx context.Context, id string, kind TimerKind, timerID string) (Agent, error)

	// ResolveTimer checks that timerID is still the agent's current timer of kind and, in
	// the same atomic step, clears it and moves the agent to its resolved status.
	ResolveTimer(ctx context.Context, id string, kind TimerKind, timerID string, at time.Time) (TimerOutcome, error)
}

// StatusChange is one agent's transition.
type StatusChange struct {
	Agent Agent
	From  Status
}
