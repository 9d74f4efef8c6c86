package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"leasing-telephony/internal/calls"
	"leasing-telephony/internal/routing"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information. Audit is internal-only and best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// RecordStatusChange appends one agent status transition.
func (s *Service) RecordStatusChange(ctx context.Context, agentID, from, to string, manual bool, at time.Time) error {
	if agentID == "" {
		return ErrInvalidEvent
	}
	meta, _ := json.Marshal(map[string]any{"from": from, "to": to, "manual": manual})
	return s.Append(ctx, Event{
		Type:      EventTypeStatusChange,
		UserID:    agentID,
		Message:   fmt.Sprintf("%s -> %s", from, to),
		Metadata:  string(meta),
		CreatedAt: at,
	})
}

// LogCallOutcome appends the terminal outcome of a communication.
func (s *Service) LogCallOutcome(ctx context.Context, c calls.Communication) error {
	if c.ID == "" || c.Outcome == "" {
		return ErrInvalidEvent
	}
	meta, _ := json.Marshal(map[string]any{"outcome": c.Outcome, "missed_reason": c.MissedReason, "from_queue": c.FromQueue})
	return s.Append(ctx, Event{
		Type:           EventTypeCallOutcome,
		UserID:         c.UserID,
		TeamID:         c.TeamID,
		CommID:         c.ID,
		ExternalCallID: c.ExternalCallID,
		Message:        string(c.Outcome),
		Metadata:       string(meta),
	})
}

// LogCallForwarded records a program call handed straight to its forwarding number.
func (s *Service) LogCallForwarded(ctx context.Context, e routing.ForwardEvent) error {
	meta, _ := json.Marshal(map[string]any{"program_id": e.ProgramID, "from": e.From, "to": e.To, "forward_to": e.ForwardTo})
	return s.Append(ctx, Event{
		Type:           EventTypeCallForwarded,
		TeamID:         e.TeamID,
		IPAddress:      e.IPAddress,
		ExternalCallID: e.ExternalCallID,
		Message:        "call forwarded",
		Metadata:       string(meta),
		CreatedAt:      e.At,
	})
}

// OutcomeTrail wraps a communications repository and audits every recorded outcome.
type OutcomeTrail struct {
	calls.Repository
	svc     *Service
	onError func(commID string, err error)
}

// TrackOutcomes returns repo with outcome auditing. onError may be nil.
func TrackOutcomes(repo calls.Repository, svc *Service, onError func(commID string, err error)) *OutcomeTrail {
	return &OutcomeTrail{Repository: repo, svc: svc, onError: onError}
}

func (t *OutcomeTrail) RecordOutcome(ctx context.Context, id string, outcome calls.Outcome, reason calls.MissedReason) (calls.Communication, error) {
	c, err := t.Repository.RecordOutcome(ctx, id, outcome, reason)
	if err != nil {
		return c, err
	}
	if aerr := t.svc.LogCallOutcome(ctx, c); aerr != nil && t.onError != nil {
		t.onError(id, aerr)
	}
	return c, nil
}
