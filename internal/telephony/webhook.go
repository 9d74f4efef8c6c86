package telephony

import (
	"net/http"
	"strconv"
	"strings"
)

// CallEvent captures the subset of voice webhook fields the routing core reads.
// Twilio posts application/x-www-form-urlencoded bodies.
type CallEvent struct {
	CallSid       string
	ParentCallSid string
	From          string
	To            string
	Direction     string
	CallStatus    string
	CallDuration  int
	AnsweredBy    string
	Digits        string
	CallerName    string
	ForwardedFrom string

	DialCallSid    string
	DialCallStatus string

	SipResponseCode string

	// StatusCallbackEvent is set on conference callbacks (participant-leave, conference-end).
	StatusCallbackEvent string
}

func ParseCallEvent(r *http.Request) (CallEvent, error) {
	if err := r.ParseForm(); err != nil {
		return CallEvent{}, err
	}
	duration, _ := strconv.Atoi(r.PostFormValue("CallDuration"))
	return CallEvent{
		CallSid:             r.PostFormValue("CallSid"),
		ParentCallSid:       r.PostFormValue("ParentCallSid"),
		From:                strings.TrimSpace(r.PostFormValue("From")),
		To:                  strings.TrimSpace(r.PostFormValue("To")),
		Direction:           r.PostFormValue("Direction"),
		CallStatus:          r.PostFormValue("CallStatus"),
		CallDuration:        duration,
		AnsweredBy:          r.PostFormValue("AnsweredBy"),
		Digits:              r.PostFormValue("Digits"),
		CallerName:          r.PostFormValue("CallerName"),
		ForwardedFrom:       strings.TrimSpace(r.PostFormValue("ForwardedFrom")),
		DialCallSid:         r.PostFormValue("DialCallSid"),
		DialCallStatus:      r.PostFormValue("DialCallStatus"),
		SipResponseCode:     r.PostFormValue("SipResponseCode"),
		StatusCallbackEvent: r.PostFormValue("StatusCallbackEvent"),
	}, nil
}

// SipUsername extracts the user part of a sip: URI, or "" for a phone number.
func SipUsername(addr string) string {
	if !strings.HasPrefix(strings.ToLower(addr), "sip:") {
		return ""
	}
	user := addr[len("sip:"):]
	if i := strings.IndexAny(user, "@;?"); i >= 0 {
		user = user[:i]
	}
	return user
}

// LegKind classifies a status callback for an outbound agent leg.
type LegKind string

const (
	LegRinging  LegKind = "ringing"
	LegAnswered LegKind = "answered"
	// LegHungUp covers legs that ended without a conversation: zero duration or a machine.
	LegHungUp   LegKind = "hung_up"
	LegDeclined LegKind = "declined"
	LegEnded    LegKind = "ended"
)

// DeclineCause explains a declined leg.
type DeclineCause string

const (
	// CauseBusyLine means the device was already on a call. It does not count against the agent.
	CauseBusyLine DeclineCause = "busy_line"
	CauseRejected DeclineCause = "rejected"
	CauseNoAnswer DeclineCause = "no_answer"
	CauseFailed   DeclineCause = "failed"
	CauseCanceled DeclineCause = "canceled"
)

type LegOutcome struct {
	Kind  LegKind
	Cause DeclineCause
}

// Leg maps the provider's status fields onto a LegOutcome.
func (e CallEvent) Leg() LegOutcome {
	switch e.CallStatus {
	case "queued", "initiated", "ringing":
		return LegOutcome{Kind: LegRinging}
	case "in-progress":
		if isMachine(e.AnsweredBy) {
			return LegOutcome{Kind: LegHungUp}
		}
		return LegOutcome{Kind: LegAnswered}
	case "completed":
		if e.CallDuration == 0 || isMachine(e.AnsweredBy) {
			return LegOutcome{Kind: LegHungUp}
		}
		return LegOutcome{Kind: LegEnded}
	case "busy":
		if e.SipResponseCode == "603" {
			return LegOutcome{Kind: LegDeclined, Cause: CauseRejected}
		}
		return LegOutcome{Kind: LegDeclined, Cause: CauseBusyLine}
	case "no-answer":
		return LegOutcome{Kind: LegDeclined, Cause: CauseNoAnswer}
	case "canceled":
		return LegOutcome{Kind: LegDeclined, Cause: CauseCanceled}
	}
	return LegOutcome{Kind: LegDeclined, Cause: CauseFailed}
}

// AnsweredByMachine reports whether answering-machine detection saw a machine or fax
// pick up.
func (e CallEvent) AnsweredByMachine() bool { return isMachine(e.AnsweredBy) }

func isMachine(answeredBy string) bool {
	return strings.HasPrefix(answeredBy, "machine") || answeredBy == "fax"
}
