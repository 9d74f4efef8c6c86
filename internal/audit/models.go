package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - Audit failures never block call handling; callers log and continue.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	// UserID is the agent the event is about, if any.
	UserID string `json:"user_id,omitempty" db:"user_id"`
	TeamID string `json:"team_id,omitempty" db:"team_id"`

	// IPAddress is the resolved client IP of the request that caused the event, when known.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	CommID         string `json:"comm_id,omitempty" db:"comm_id"`
	ExternalCallID string `json:"external_call_id,omitempty" db:"external_call_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeStatusChange  EventType = "agent_status_change"
	EventTypeCallOutcome   EventType = "call_outcome"
	EventTypeCallForwarded EventType = "call_forwarded"
)
