// Package presence answers "does this agent hold a live client connection" across API
// instances with a bounded request/reply over Redis pub/sub.
package presence

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"leasing-telephony/pkg/logger"
)

// LocalConnections is the set of clients connected to this process.
type LocalConnections interface {
	HasConnection(userID string) bool
}

type request struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id"`
	ReplyTo string `json:"reply_to"`
}

const replyPrefix = "telephony:presence:reply:"

// RedisQuery asks every instance whether the user is connected and waits at most timeout
// for the first positive reply. Any failure or silence reads as "not connected".
type RedisQuery struct {
	rdb     *redis.Client
	channel string
	timeout time.Duration
	local   LocalConnections
	log     *slog.Logger
}

func NewRedisQuery(rdb *redis.Client, channel string, timeout time.Duration, local LocalConnections, log *slog.Logger) *RedisQuery {
	return &RedisQuery{rdb: rdb, channel: channel, timeout: timeout, local: local, log: logger.OrDiscard(log)}
}

func (q *RedisQuery) HasLiveConnection(ctx context.Context, userID string) bool {
	if q.local != nil && q.local.HasConnection(userID) {
		return true
	}
	if q.rdb == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	req := request{ID: uuid.NewString(), UserID: userID}
	req.ReplyTo = replyPrefix + req.ID

	sub := q.rdb.Subscribe(ctx, req.ReplyTo)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		q.log.Warn("presence: subscribe failed", "user_id", userID, "err", err)
		return false
	}

	b, err := json.Marshal(req)
	if err != nil {
		return false
	}
	if err := q.rdb.Publish(ctx, q.channel, b).Err(); err != nil {
		q.log.Warn("presence: publish failed", "user_id", userID, "err", err)
		return false
	}

	found := awaitReply(ctx, sub.Channel())
	q.log.Debug("presence query answered", "user_id", userID, "request_id", req.ID, "connected", found)
	return found
}

// awaitReply returns true on the first reply, false when ctx ends first.
func awaitReply(ctx context.Context, replies <-chan *redis.Message) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case m, ok := <-replies:
			if !ok {
				return false
			}
			if m != nil && m.Payload == "true" {
				return true
			}
		}
	}
}

// Responder answers presence requests for the clients connected to this process. It stays
// silent when the user is not connected here so another instance can answer.
type Responder struct {
	rdb     *redis.Client
	channel string
	local   LocalConnections
	log     *slog.Logger
}

func NewResponder(rdb *redis.Client, channel string, local LocalConnections, log *slog.Logger) *Responder {
	return &Responder{rdb: rdb, channel: channel, local: local, log: logger.OrDiscard(log)}
}

// Run serves requests until ctx ends.
func (r *Responder) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, m.Payload)
		}
	}
}

func (r *Responder) handle(ctx context.Context, payload string) {
	replyTo, ok := r.reply(payload)
	if !ok {
		return
	}
	if err := r.rdb.Publish(ctx, replyTo, "true").Err(); err != nil {
		r.log.Warn("presence: reply failed", "reply_to", replyTo, "err", err)
	}
}

// reply decides whether this instance should answer the request.
func (r *Responder) reply(payload string) (string, bool) {
	var req request
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		r.log.Warn("presence: malformed request", "err", err)
		return "", false
	}
	if req.ReplyTo == "" || req.UserID == "" {
		return "", false
	}
	if !r.local.HasConnection(req.UserID) {
		return "", false
	}
	return req.ReplyTo, true
}
