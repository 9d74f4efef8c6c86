package calls

import (
	"context"
	"errors"
	"sort"
	"time"
)

var ErrNotFound = errors.New("calls: not found")

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionTransfer Direction = "transfer"
)

// Outcome is the terminal state of a communication; empty while in progress.
type Outcome string

const (
	OutcomeAnswered  Outcome = "answered"
	OutcomeMissed    Outcome = "missed"
	OutcomeVoicemail Outcome = "voicemail"
	OutcomeAbandoned Outcome = "abandoned"
)

type MissedReason string

const (
	MissedNoAnswer           MissedReason = "no_answer"
	MissedAfterHours         MissedReason = "after_hours"
	MissedUnavailable        MissedReason = "unavailable"
	MissedCallerHungUp       MissedReason = "caller_hung_up"
	MissedQueueHungUp        MissedReason = "queue_hung_up"
	MissedQueueTimeExpired   MissedReason = "queue_time_expired"
	MissedQueueDeclinedByAll MissedReason = "queue_declined_by_all"
	MissedQueueAgentsOffline MissedReason = "queue_agents_offline"
	MissedQueueEndOfDay      MissedReason = "queue_end_of_day"
	MissedQueueNoAgents      MissedReason = "queue_no_agents"
	MissedCallbackRequested  MissedReason = "callback_requested"
)

// Communication is the record of one inbound call attempt and everything done with it.
// Redials of the same call reuse it.
type Communication struct {
	ID                    string    `json:"id" db:"id"`
	ExternalCallID        string    `json:"external_call_id" db:"external_call_id"`
	TransferredFromCommID string    `json:"transferred_from_comm_id,omitempty" db:"transferred_from_comm_id"`
	Direction             Direction `json:"direction" db:"direction"`
	From                  string    `json:"from" db:"from_number"`
	To                    string    `json:"to" db:"to_number"`

	PartyID   string `json:"party_id,omitempty" db:"party_id"`
	TeamID    string `json:"team_id,omitempty" db:"team_id"`
	ProgramID string `json:"program_id,omitempty" db:"program_id"`

	// UserID is the agent who answered, or the single receiver while ringing.
	UserID   string `json:"user_id,omitempty" db:"user_id"`
	Answered bool   `json:"answered" db:"answered"`

	Outcome      Outcome      `json:"outcome,omitempty" db:"outcome"`
	MissedReason MissedReason `json:"missed_reason,omitempty" db:"missed_reason"`
	FromQueue    bool         `json:"from_queue" db:"from_queue"`

	// Receivers maps each agent offered the call to the endpoints rung for them: SIP
	// usernames and ring phone numbers.
	Receivers map[string][]string `json:"receivers,omitempty" db:"receivers"`
	// HungUpEndpoints lists endpoints that hung up without answering.
	HungUpEndpoints []string `json:"hung_up_endpoints,omitempty" db:"hung_up_endpoints"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

// ReceiverFor returns the agent an endpoint was offered for.
func (c Communication) ReceiverFor(endpoint string) (string, bool) {
	for userID, endpoints := range c.Receivers {
		for _, e := range endpoints {
			if e == endpoint {
				return userID, true
			}
		}
	}
	return "", false
}

// ReceiverIDs lists the agents the call was offered to.
func (c Communication) ReceiverIDs() []string {
	out := make([]string, 0, len(c.Receivers))
	for id := range c.Receivers {
		out = append(out, id)
	}
	return sortedCopy(out)
}

// AllHungUp reports whether every endpoint offered to userID has hung up.
func (c Communication) AllHungUp(userID string) bool {
	endpoints := c.Receivers[userID]
	if len(endpoints) == 0 {
		return false
	}
	hung := make(map[string]bool, len(c.HungUpEndpoints))
	for _, e := range c.HungUpEndpoints {
		hung[e] = true
	}
	for _, e := range endpoints {
		if !hung[e] {
			return false
		}
	}
	return true
}

// Repository stores communications.
type Repository interface {
	Get(ctx context.Context, id string) (Communication, error)
	// FindByExternalCall returns the communication created for the provider call, scoped by
	// the communication it was transferred from.
	FindByExternalCall(ctx context.Context, externalCallID, transferredFromCommID string) (Communication, error)
	Create(ctx context.Context, c Communication) (Communication, error)

	SetUser(ctx context.Context, id, userID string) error
	SetParty(ctx context.Context, id, partyID string) error
	SetReceivers(ctx context.Context, id string, receivers map[string][]string) error
	SetFromQueue(ctx context.Context, id string) error
	MarkEndpointHungUp(ctx context.Context, id, username string) (Communication, error)

	// MarkAnswered sets answered and the answering user only if nobody answered yet. won is
	// false when another agent got there first; the stored communication is returned either way.
	MarkAnswered(ctx context.Context, id, userID string) (c Communication, won bool, err error)
	// ReleaseAnswer undoes MarkAnswered when userID still holds the answer.
	ReleaseAnswer(ctx context.Context, id, userID string) error

	// RecordOutcome stores the terminal outcome. Unanswered outcomes never overwrite an answer.
	RecordOutcome(ctx context.Context, id string, outcome Outcome, reason MissedReason) (Communication, error)
	MarkEnded(ctx context.Context, id string, at time.Time) error

	// OpenForAgent lists communications not yet ended that the agent answered or was offered.
	OpenForAgent(ctx context.Context, userID string) ([]Communication, error)
	ListByTeam(ctx context.Context, teamID string, from, to time.Time) ([]Communication, error)
}

func sortedCopy(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}
