package telephony

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// FakeOps is an in-memory Ops for tests and local runs.
type FakeOps struct {
	mu sync.Mutex

	seq        int
	live       map[string]LiveCall
	registered map[string]bool
	failing    map[string]bool

	Placed      []PlaceCallRequest
	Transfers   map[string]string
	HungUp      []string
	TransferErr error
	PlaceErr    error
}

func NewFakeOps() *FakeOps {
	return &FakeOps{
		live:       map[string]LiveCall{},
		registered: map[string]bool{},
		failing:    map[string]bool{},
		Transfers:  map[string]string{},
	}
}

// AddLiveCall marks id as an ongoing call.
func (f *FakeOps) AddLiveCall(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live[id] = LiveCall{ID: id, Status: "in-progress"}
}

func (f *FakeOps) EndCall(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, id)
}

func (f *FakeOps) SetRegistered(username string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered[username] = ok
}

// FailEndpoint makes lookups for username return an error.
func (f *FakeOps) FailEndpoint(username string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[username] = true
}

func (f *FakeOps) PlaceCall(ctx context.Context, req PlaceCallRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PlaceErr != nil {
		return "", f.PlaceErr
	}
	f.seq++
	id := fmt.Sprintf("leg-%d", f.seq)
	f.Placed = append(f.Placed, req)
	f.live[id] = LiveCall{ID: id, To: req.SipUsername + req.Number, Status: "ringing"}
	return id, nil
}

func (f *FakeOps) LiveCalls(ctx context.Context) ([]LiveCall, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]LiveCall, 0, len(f.live))
	for _, c := range f.live {
		out = append(out, c)
	}
	return out, nil
}

func (f *FakeOps) GetLiveCall(ctx context.Context, callID string) (LiveCall, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.live[callID]
	if !ok {
		return LiveCall{}, ErrCallNotFound
	}
	return c, nil
}

func (f *FakeOps) TransferCall(ctx context.Context, callID, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TransferErr != nil {
		return f.TransferErr
	}
	if _, ok := f.live[callID]; !ok {
		return ErrCallNotFound
	}
	f.Transfers[callID] = url
	return nil
}

func (f *FakeOps) HangupCall(ctx context.Context, callID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.HungUp = append(f.HungUp, callID)
	if _, ok := f.live[callID]; !ok {
		return ErrCallNotFound
	}
	delete(f.live, callID)
	return nil
}

func (f *FakeOps) GetEndpoint(ctx context.Context, username string) (Endpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[username] {
		return Endpoint{Username: username}, errors.New("telephony: endpoint lookup failed")
	}
	return Endpoint{Username: username, Registered: f.registered[username]}, nil
}

// WasHungUp reports whether HangupCall was called for id.
func (f *FakeOps) WasHungUp(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.HungUp {
		if h == id {
			return true
		}
	}
	return false
}

// PlacedCalls returns a copy of the placed legs.
func (f *FakeOps) PlacedCalls() []PlaceCallRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PlaceCallRequest(nil), f.Placed...)
}

func (f *FakeOps) TransferTarget(callID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.Transfers[callID]
	return u, ok
}

var _ Ops = (*FakeOps)(nil)
var _ Ops = (*TwilioOps)(nil)
