package teams

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("teams: not found")
	ErrInvalidArgument = errors.New("teams: invalid argument")
)

// Strategy is the team's call routing strategy.
type Strategy string

const (
	StrategyOwner      Strategy = "owner"
	StrategyRoundRobin Strategy = "round_robin"
	StrategyEverybody  Strategy = "everybody"
	StrategyCallCenter Strategy = "call_center"
)

// RoleLeasingAgent is the front-line functional role. Only agents holding it in their
// slowest-starting team are subject to the sign-on delay.
const RoleLeasingAgent = "leasing_agent"

type QueueSettings struct {
	Enabled bool `json:"enabled"`
	// TimeToVoicemailSeconds bounds how long a caller waits in queue; 0 means no limit.
	TimeToVoicemailSeconds int `json:"time_to_voicemail_seconds"`
}

// CallSettings delays are in seconds; fractions are allowed.
type CallSettings struct {
	WrapUpDelayAfterCallEnds float64 `json:"wrap_up_delay_after_call_ends"`
	InitialDelayAfterSignOn  float64 `json:"initial_delay_after_sign_on"`
}

// CalendarLink ties a team to an external calendar whose events close the office.
type CalendarLink struct {
	Enabled    bool   `json:"enabled"`
	ExternalID string `json:"external_id,omitempty"`
}

// Team is a routing unit.
type Team struct {
	ID              string        `json:"id" db:"id"`
	Name            string        `json:"name" db:"name"`
	TimeZone        string        `json:"time_zone" db:"time_zone"`
	Strategy        Strategy      `json:"strategy" db:"strategy"`
	CallCenterPhone string        `json:"call_center_phone,omitempty" db:"call_center_phone"`
	CallQueue       QueueSettings `json:"call_queue" db:"-"`
	CallSettings    CallSettings  `json:"call_settings" db:"-"`
	OfficeHours     OfficeHours   `json:"office_hours" db:"office_hours"`
	Calendar        CalendarLink  `json:"calendar" db:"-"`

	// RoundRobinCursor is the last agent handed a call by the round-robin strategy.
	RoundRobinCursor string `json:"-" db:"round_robin_cursor"`

	Inactive  bool      `json:"inactive" db:"inactive"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// WrapUpDelay is the configured post-call grace period.
func (t Team) WrapUpDelay() time.Duration {
	return seconds(t.CallSettings.WrapUpDelayAfterCallEnds)
}

// QueueTimeLimit bounds how long a caller waits in the team queue; 0 means no limit.
func (t Team) QueueTimeLimit() time.Duration {
	return time.Duration(t.CallQueue.TimeToVoicemailSeconds) * time.Second
}

// SignOnDelay is the configured delay before a freshly signed-in agent becomes available.
func (t Team) SignOnDelay() time.Duration {
	return seconds(t.CallSettings.InitialDelayAfterSignOn)
}

func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

// Member is a user's membership in a team.
type Member struct {
	ID       string   `json:"id" db:"id"`
	TeamID   string   `json:"team_id" db:"team_id"`
	UserID   string   `json:"user_id" db:"user_id"`
	Roles    []string `json:"roles" db:"roles"`
	Inactive bool     `json:"inactive" db:"inactive"`

	// DirectPhone is the member's personal inbound number, if any.
	DirectPhone string `json:"direct_phone,omitempty" db:"direct_phone"`
}

func (m Member) HasRole(role string) bool {
	for _, r := range m.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Program is a marketing/contact program owning inbound numbers. Calls to a program are
// routed to its owning team.
type Program struct {
	ID               string `json:"id" db:"id"`
	Name             string `json:"name" db:"name"`
	TeamID           string `json:"team_id" db:"team_id"`
	PropertyID       string `json:"property_id,omitempty" db:"property_id"`
	PhoneNumber      string `json:"phone_number" db:"phone_number"`
	ForwardingNumber string `json:"forwarding_number,omitempty" db:"forwarding_number"`
}

// DialedKind says what an inbound number belongs to.
type DialedKind string

const (
	DialedProgram    DialedKind = "program"
	DialedTeamMember DialedKind = "team_member"
)

// DialedTarget is the owner of a dialed number.
type DialedTarget struct {
	Kind DialedKind
	ID   string
}
