package agents

import (
	"context"
	"sync"
)

type SignalKind string

const (
	// SignalAgentsAvailable wakes queued-call processing.
	SignalAgentsAvailable   SignalKind = "agents_available"
	SignalAgentsUnavailable SignalKind = "agents_unavailable"
	// SignalTeamsOffline fires when every agent of a team is NotAvailable.
	SignalTeamsOffline SignalKind = "teams_offline"
)

type Signal struct {
	Kind     SignalKind
	AgentIDs []string
	TeamIDs  []string
}

type SignalHandler func(ctx context.Context, s Signal)

// SignalHub fans availability signals out to in-process subscribers, synchronously and in
// subscription order.
type SignalHub struct {
	mu       sync.RWMutex
	handlers []SignalHandler
}

func NewSignalHub() *SignalHub { return &SignalHub{} }

func (h *SignalHub) Subscribe(fn SignalHandler) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers = append(h.handlers, fn)
}

func (h *SignalHub) Publish(ctx context.Context, s Signal) {
	h.mu.RLock()
	handlers := append([]SignalHandler(nil), h.handlers...)
	h.mu.RUnlock()
	for _, fn := range handlers {
		fn(ctx, s)
	}
}
