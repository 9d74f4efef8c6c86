package presence

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type connected map[string]bool

func (c connected) HasConnection(userID string) bool { return c[userID] }

func TestAwaitReply_FirstPositiveReplyWins(t *testing.T) {
	ch := make(chan *redis.Message, 2)
	ch <- &redis.Message{Payload: "nope"}
	ch <- &redis.Message{Payload: "true"}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !awaitReply(ctx, ch) {
		t.Fatalf("expected true")
	}
}

func TestAwaitReply_TimesOutToFalse(t *testing.T) {
	ch := make(chan *redis.Message)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	if awaitReply(ctx, ch) {
		t.Fatalf("expected false on timeout")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not honoured")
	}
}

func TestRedisQuery_LocalConnectionShortCircuits(t *testing.T) {
	q := NewRedisQuery(nil, "presence", 10*time.Millisecond, connected{"u1": true}, nil)
	if !q.HasLiveConnection(context.Background(), "u1") {
		t.Fatalf("expected local connection to count")
	}
	if q.HasLiveConnection(context.Background(), "u2") {
		t.Fatalf("expected false without redis")
	}
}

func TestRedisQuery_UnreachableRedisIsNotConnected(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	defer rdb.Close()

	q := NewRedisQuery(rdb, "presence", 100*time.Millisecond, connected{}, nil)
	if q.HasLiveConnection(context.Background(), "u1") {
		t.Fatalf("expected false when redis is unreachable")
	}
}

func TestResponder_AnswersOnlyForLocalClients(t *testing.T) {
	r := NewResponder(nil, "presence", connected{"u1": true}, nil)

	if to, ok := r.reply(`{"id":"1","user_id":"u1","reply_to":"telephony:presence:reply:1"}`); !ok || to != "telephony:presence:reply:1" {
		t.Fatalf("expected reply for u1, got %q %v", to, ok)
	}
	if _, ok := r.reply(`{"id":"2","user_id":"u2","reply_to":"x"}`); ok {
		t.Fatalf("expected silence for u2")
	}
	if _, ok := r.reply(`not json`); ok {
		t.Fatalf("expected silence for malformed request")
	}
}
