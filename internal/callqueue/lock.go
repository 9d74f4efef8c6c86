package callqueue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"leasing-telephony/pkg/logger"
	"leasing-telephony/pkg/utils"
)

// Locker serialises dispatch rounds across API instances. unlock is nil when ok is false.
type Locker interface {
	TryLock(ctx context.Context, key string) (unlock func(), ok bool, err error)
}

// RedisLocker holds an expiring Redis lock for the duration of a round.
type RedisLocker struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration, log *slog.Logger) *RedisLocker {
	return &RedisLocker{rdb: rdb, ttl: ttl, log: logger.OrDiscard(log)}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	token, ok, err := utils.TryLock(ctx, l.rdb, key, l.ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	return func() {
		err := utils.Unlock(context.WithoutCancel(ctx), l.rdb, key, token)
		if err != nil && !errors.Is(err, utils.ErrLockNotHeld) {
			l.log.Warn("queue dispatch unlock failed", "key", key, "err", err)
		}
	}, true, nil
}

// LocalLocker is an in-process Locker for single-instance runs and tests.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocker() *LocalLocker { return &LocalLocker{held: map[string]bool{}} }

func (l *LocalLocker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, true, nil
}
