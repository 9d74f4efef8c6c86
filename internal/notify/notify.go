// Package notify delivers fire-and-forget events to agents' connected clients.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"leasing-telephony/pkg/logger"
)

type Event string

const (
	EventUsersAvailabilityChanged Event = "users_availability_changed"
	EventWrapUpStarted            Event = "wrap_up_started"
	EventLoginDelayStarted        Event = "login_delay_started"
	EventCallAnswered             Event = "call_answered"
	EventCallAnsweredElsewhere    Event = "call_answered_elsewhere"
	EventCallTerminated           Event = "call_terminated"
	EventCallQueueChanged         Event = "call_queue_changed"
	EventForceLogout              Event = "force_logout"
)

// Routing selects the recipients of a message. Empty routing reaches nobody.
type Routing struct {
	Users []string `json:"users,omitempty"`
	Teams []string `json:"teams,omitempty"`
}

type Message struct {
	Event   Event          `json:"event"`
	Data    map[string]any `json:"data,omitempty"`
	Routing Routing        `json:"routing"`
}

// Notifier publishes a message. Implementations must not block on slow clients and must
// not return delivery errors to callers; failures are logged.
type Notifier interface {
	Notify(ctx context.Context, msg Message)
}

// RedisNotifier publishes messages on a channel that every API instance subscribes to.
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
	log     *slog.Logger
}

func NewRedisNotifier(rdb *redis.Client, channel string, log *slog.Logger) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, channel: channel, log: logger.OrDiscard(log)}
}

func (n *RedisNotifier) Notify(ctx context.Context, msg Message) {
	if len(msg.Routing.Users) == 0 && len(msg.Routing.Teams) == 0 {
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		n.log.Error("notify: encode message", "event", msg.Event, "err", err)
		return
	}
	if err := n.rdb.Publish(ctx, n.channel, b).Err(); err != nil {
		n.log.Warn("notify: publish failed", "event", msg.Event, "err", err)
	}
}

// Decode parses a message published by RedisNotifier.
func Decode(payload string) (Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return Message{}, fmt.Errorf("notify: decode message: %w", err)
	}
	return m, nil
}

// Recorder keeps every message in memory. Used by tests.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Notify(ctx context.Context, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// ByEvent returns the recorded messages of one event type.
func (r *Recorder) ByEvent(e Event) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.Event == e {
			out = append(out, m)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
}
