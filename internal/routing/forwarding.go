package routing

import (
	"context"
	"time"
)

// Forwarder hands calls for programs with a forwarding number straight to that number,
// ahead of any team routing.
type Forwarder struct {
	Audit ForwardAuditor
	Now   func() time.Time
}

// ForwardAuditor records forwarded calls in the internal audit trail.
type ForwardAuditor interface {
	LogCallForwarded(ctx context.Context, e ForwardEvent) error
}

type ForwardEvent struct {
	ProgramID      string
	TeamID         string
	ExternalCallID string
	From           string
	To             string
	ForwardTo      string
	IPAddress      string
	At             time.Time
}

func NewForwarder(audit ForwardAuditor) *Forwarder {
	return &Forwarder{Audit: audit, Now: time.Now}
}

// Decide returns the forwarding number when the target program forwards its calls.
// Transferred calls are never forwarded again.
func (f *Forwarder) Decide(ctx context.Context, t Target) (string, bool) {
	if t.Program == nil || t.Program.ForwardingNumber == "" || t.Call.IsTransfer() {
		return "", false
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	if f.Audit != nil {
		_ = f.Audit.LogCallForwarded(ctx, ForwardEvent{
			ProgramID:      t.Program.ID,
			TeamID:         t.Team.ID,
			ExternalCallID: t.Call.ExternalCallID,
			From:           t.Call.From,
			To:             t.Call.To,
			ForwardTo:      t.Program.ForwardingNumber,
			IPAddress:      ClientIPFromContext(ctx),
			At:             now().UTC(),
		})
	}
	return t.Program.ForwardingNumber, true
}
