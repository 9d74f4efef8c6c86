package agents

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("agents: not found")

type Status string

const (
	StatusAvailable    Status = "available"
	StatusBusy         Status = "busy"
	StatusNotAvailable Status = "not_available"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusBusy, StatusNotAvailable:
		return true
	}
	return false
}

// SipEndpoint is a SIP registration the agent can be rung on.
type SipEndpoint struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	// UsedInApp marks the softphone embedded in the web app. It only counts as reachable
	// while the agent has the app open.
	UsedInApp bool `json:"used_in_app"`
}

// Agent is a user who receives calls, together with availability state.
type Agent struct {
	ID              string    `json:"id" db:"id"`
	FullName        string    `json:"full_name" db:"full_name"`
	Status          Status    `json:"status" db:"status"`
	StatusUpdatedAt time.Time `json:"status_updated_at" db:"status_updated_at"`

	// NotAvailableSetAt is set when the agent chose NotAvailable by hand. While set,
	// automatic transitions resolve to NotAvailable instead of Available.
	NotAvailableSetAt *time.Time `json:"not_available_set_at,omitempty" db:"not_available_set_at"`

	WrapUpTimerID string `json:"wrap_up_timer_id,omitempty" db:"wrap_up_timer_id"`
	LoginTimerID  string `json:"login_timer_id,omitempty" db:"login_timer_id"`

	SipEndpoints []SipEndpoint `json:"sip_endpoints" db:"sip_endpoints"`
	RingPhones   []string      `json:"ring_phones" db:"ring_phones"`

	Inactive bool `json:"inactive" db:"inactive"`
}

func (a Agent) ManuallyNotAvailable() bool { return a.NotAvailableSetAt != nil }

// TimerKind names one of the agent's delayed transitions.
type TimerKind string

const (
	TimerWrapUp TimerKind = "wrap_up"
	TimerLogin  TimerKind = "login"
)

func (a Agent) TimerID(kind TimerKind) string {
	switch kind {
	case TimerWrapUp:
		return a.WrapUpTimerID
	case TimerLogin:
		return a.LoginTimerID
	}
	return ""
}

// ResolvedStatus is where an automatic transition lands: NotAvailable under a manual
// override, Available otherwise.
func (a Agent) ResolvedStatus() Status {
	if a.ManuallyNotAvailable() {
		return StatusNotAvailable
	}
	return StatusAvailable
}

// blocksAutomatic reports whether a manual NotAvailable override rules out moving a to
// status without the agent asking for it.
func (a Agent) blocksAutomatic(status Status, manual bool) bool {
	return !manual && status == StatusAvailable && a.ManuallyNotAvailable()
}

// applyStatus mutates a in place the way every repository must: Available clears timers,
// a manual Available clears the override and a manual NotAvailable stamps it.
func (a *Agent) applyStatus(status Status, manual bool, at time.Time) {
	a.Status = status
	a.StatusUpdatedAt = at
	switch status {
	case StatusAvailable:
		a.WrapUpTimerID = ""
		a.LoginTimerID = ""
		if manual {
			a.NotAvailableSetAt = nil
		}
	case StatusNotAvailable:
		if manual {
			ts := at
			a.NotAvailableSetAt = &ts
		}
	}
}

// TimerOutcome reports what ResolveTimer did.
type TimerOutcome struct {
	Agent Agent
	// Matched is false when a newer timer replaced the one being resolved.
	Matched bool
	// Changed is true when the status actually transitioned.
	Changed bool
	From    Status
}
