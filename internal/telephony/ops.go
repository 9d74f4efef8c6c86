package telephony

import (
	"context"
	"errors"
	"time"
)

// ErrCallNotFound is returned when the provider has no live call with the given id.
var ErrCallNotFound = errors.New("telephony: call not found")

// PlaceCallRequest describes one outbound leg. Exactly one of SipUsername or Number is set.
type PlaceCallRequest struct {
	From        string
	SipUsername string
	Number      string

	AnswerURL         string
	StatusCallbackURL string
	RingTimeout       time.Duration

	// MachineDetection asks the provider to report answering machines so they can be
	// treated as a hangup.
	MachineDetection bool

	// Headers travel as custom SIP headers on SIP legs.
	Headers map[string]string
}

// LiveCall is a call the provider still considers in progress.
type LiveCall struct {
	ID     string
	From   string
	To     string
	Status string
}

type Endpoint struct {
	Username   string
	Registered bool
}

// Ops is everything the routing core asks of the telephony provider. Callers treat every
// error as the conservative outcome: offline endpoint, ended call, failed transfer.
type Ops interface {
	PlaceCall(ctx context.Context, req PlaceCallRequest) (string, error)
	LiveCalls(ctx context.Context) ([]LiveCall, error)
	GetLiveCall(ctx context.Context, callID string) (LiveCall, error)
	TransferCall(ctx context.Context, callID, url string) error
	HangupCall(ctx context.Context, callID string) error
	GetEndpoint(ctx context.Context, username string) (Endpoint, error)
}

// IsLive reports whether callID is still up. Lookup failures count as not live.
func IsLive(ctx context.Context, ops Ops, callID string) bool {
	if callID == "" {
		return false
	}
	_, err := ops.GetLiveCall(ctx, callID)
	return err == nil
}
