package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated inbound call outcomes for one team.
type CallsSummaryRequest struct {
	TeamID string    `json:"team_id"`
	Range  TimeRange `json:"range"`
}

type CallsSummary struct {
	TeamID string    `json:"team_id"`
	Range  TimeRange `json:"range"`

	TotalCalls     int `json:"total_calls"`
	AnsweredCalls  int `json:"answered_calls"`
	MissedCalls    int `json:"missed_calls"`
	VoicemailCalls int `json:"voicemail_calls"`
	AbandonedCalls int `json:"abandoned_calls"`
	// InProgressCalls have no outcome yet.
	InProgressCalls int `json:"in_progress_calls"`
	QueuedCalls     int `json:"queued_calls"`

	MissedByReason map[string]int `json:"missed_by_reason"`

	AnswerRate float64 `json:"answer_rate"`
}
