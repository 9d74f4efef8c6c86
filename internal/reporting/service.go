// Package reporting aggregates call outcomes for supervisors.
package reporting

import (
	"context"
	"errors"
	"time"

	"leasing-telephony/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Source lists a team's communications created in [from, to).
type Source interface {
	ListByTeam(ctx context.Context, teamID string, from, to time.Time) ([]calls.Communication, error)
}

type Service struct {
	src Source
}

func NewService(src Source) *Service { return &Service{src: src} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.TeamID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.src == nil {
		return CallsSummary{}, errors.New("reporting: source not configured")
	}

	rows, err := s.src.ListByTeam(ctx, req.TeamID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{TeamID: req.TeamID, Range: req.Range, MissedByReason: map[string]int{}}
	for _, c := range rows {
		out.TotalCalls++
		if c.FromQueue {
			out.QueuedCalls++
		}
		switch c.Outcome {
		case calls.OutcomeAnswered:
			out.AnsweredCalls++
		case calls.OutcomeMissed:
			out.MissedCalls++
			if c.MissedReason != "" {
				out.MissedByReason[string(c.MissedReason)]++
			}
		case calls.OutcomeVoicemail:
			out.VoicemailCalls++
		case calls.OutcomeAbandoned:
			out.AbandonedCalls++
		default:
			out.InProgressCalls++
		}
	}
	if finished := out.TotalCalls - out.InProgressCalls; finished > 0 {
		out.AnswerRate = float64(out.AnsweredCalls) / float64(finished)
	}
	return out, nil
}
