package dial

import (
	"context"
	"fmt"

	"leasing-telephony/internal/calls"
	"leasing-telephony/internal/notify"
	"leasing-telephony/internal/teams"
	"leasing-telephony/internal/telephony"
)

// endpointOf names the dialled endpoint of a leg: the SIP username, or the number.
func endpointOf(ev telephony.CallEvent) (string, bool) {
	if u := telephony.SipUsername(ev.To); u != "" {
		return u, true
	}
	return ev.To, false
}

// DialCallback handles progress of one leg of a dial. An agent whose every endpoint gave
// up is freed right away; the first agent to answer owns the call and the rest are freed.
func (o *Orchestrator) DialCallback(ctx context.Context, commID string, ev telephony.CallEvent) error {
	comm, err := o.comms.Get(ctx, commID)
	if err != nil {
		return fmt.Errorf("dial: load communication: %w", err)
	}
	endpoint, isSip := endpointOf(ev)
	userID, ok := comm.ReceiverFor(endpoint)
	if !ok {
		o.log.Debug("dial leg not offered to an agent", "comm_id", commID, "endpoint", endpoint)
		return nil
	}

	switch ev.Leg().Kind {
	case telephony.LegAnswered:
		return o.answered(ctx, comm, userID, !isSip)
	case telephony.LegHungUp, telephony.LegDeclined:
		updated, err := o.comms.MarkEndpointHungUp(ctx, commID, endpoint)
		if err != nil {
			return fmt.Errorf("dial: mark endpoint hung up: %w", err)
		}
		if updated.Answered && updated.UserID == userID {
			return nil
		}
		if updated.AllHungUp(userID) {
			o.log.Info("every endpoint of agent hung up", "comm_id", commID, "agent_id", userID)
			o.releaser.Release(ctx, []string{userID}, comm.ExternalCallID)
		}
	}
	return nil
}

func (o *Orchestrator) answered(ctx context.Context, comm calls.Communication, userID string, fromPhone bool) error {
	stored, won, err := o.comms.MarkAnswered(ctx, comm.ID, userID)
	if err != nil {
		return fmt.Errorf("dial: mark answered: %w", err)
	}
	if !won {
		o.log.Info("call already answered", "comm_id", comm.ID, "agent_id", userID, "answered_by", stored.UserID)
		return nil
	}
	o.log.Info("call answered", "comm_id", comm.ID, "agent_id", userID, "from_phone", fromPhone)

	var others []string
	for _, id := range comm.ReceiverIDs() {
		if id != userID {
			others = append(others, id)
		}
	}
	o.releaser.Release(ctx, others, comm.ExternalCallID)
	o.notify(ctx, notify.EventCallAnsweredElsewhere, map[string]any{"commId": comm.ID, "answeredBy": userID}, others)
	if fromPhone {
		o.notify(ctx, notify.EventCallAnswered, map[string]any{"commId": comm.ID, "isPhoneToPhone": true}, []string{userID})
	}
	if o.parties != nil {
		if err := o.parties.AssignTo(ctx, comm.PartyID, userID, comm.TeamID); err != nil {
			o.log.Warn("assign party owner failed", "party_id", comm.PartyID, "err", err)
		}
	}
	return nil
}

// Dial completion statuses reported on the action URL.
const (
	dialBusy     = "busy"
	dialNoAnswer = "no-answer"
	dialFailed   = "failed"
	dialCanceled = "canceled"
)

// PostDial handles the end of a dial. Receivers who did not answer are freed, the one who
// answered starts wrap-up, and an unanswered caller still on the line gets the unavailable
// voicemail treatment.
func (o *Orchestrator) PostDial(ctx context.Context, commID string, ev telephony.CallEvent) (telephony.Response, error) {
	comm, err := o.comms.Get(ctx, commID)
	if err != nil {
		return telephony.Response{}, fmt.Errorf("dial: load communication: %w", err)
	}
	status := ev.DialCallStatus
	o.log.Info("dial finished", "comm_id", commID, "dial_status", status, "answered", comm.Answered)

	var idle []string
	for _, id := range comm.ReceiverIDs() {
		if !comm.Answered || id != comm.UserID {
			idle = append(idle, id)
		}
	}
	o.releaser.Release(ctx, idle, comm.ExternalCallID)
	if comm.UserID != "" {
		o.notify(ctx, notify.EventCallTerminated, map[string]any{"commId": commID}, []string{comm.UserID})
	}

	if comm.Answered {
		o.recordOutcome(ctx, commID, calls.OutcomeAnswered, "")
		o.releaser.CloseCommunication(ctx, commID, o.now().UTC())
		if err := o.wrapUp.StartWrapUp(ctx, comm.UserID, comm.TeamID); err != nil {
			return telephony.Response{}, fmt.Errorf("dial: start wrap-up: %w", err)
		}
		return telephony.Response{}, nil
	}

	o.assignOwner(ctx, comm.PartyID, o.team(ctx, comm.TeamID))
	switch status {
	case dialNoAnswer, dialBusy, dialFailed:
		o.recordOutcome(ctx, commID, calls.OutcomeMissed, calls.MissedNoAnswer)
		return telephony.VoicemailResponse(telephony.MessageUnavailable, commID), nil
	case dialCanceled:
		o.recordOutcome(ctx, commID, calls.OutcomeAbandoned, calls.MissedCallerHungUp)
	default:
		o.recordOutcome(ctx, commID, calls.OutcomeMissed, calls.MissedCallerHungUp)
	}
	o.releaser.CloseCommunication(ctx, commID, o.now().UTC())
	return telephony.Response{}, nil
}

// team loads the team for owner assignment; a missing team yields a zero Team, which
// assigns nobody.
func (o *Orchestrator) team(ctx context.Context, id string) teams.Team {
	if id == "" || o.teams == nil {
		return teams.Team{ID: id}
	}
	t, err := o.teams.Get(ctx, id)
	if err != nil {
		o.log.Warn("load team failed", "team_id", id, "err", err)
		return teams.Team{ID: id}
	}
	return t
}
