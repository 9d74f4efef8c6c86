package telephony

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const registrationKeyPrefix = "sip:registration:"

// RedisRegistrations tracks SIP registrations as expiring Redis keys.
type RedisRegistrations struct {
	rdb *redis.Client
}

func NewRedisRegistrations(rdb *redis.Client) *RedisRegistrations {
	return &RedisRegistrations{rdb: rdb}
}

// Register records username as registered for expires. A zero expiry unregisters.
func (r *RedisRegistrations) Register(ctx context.Context, username string, expires time.Duration) error {
	key := registrationKeyPrefix + username
	if expires <= 0 {
		if err := r.rdb.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("telephony: clear registration %s: %w", username, err)
		}
		return nil
	}
	if err := r.rdb.Set(ctx, key, time.Now().UTC().Format(time.RFC3339), expires).Err(); err != nil {
		return fmt.Errorf("telephony: store registration %s: %w", username, err)
	}
	return nil
}

func (r *RedisRegistrations) IsRegistered(ctx context.Context, username string) (bool, error) {
	n, err := r.rdb.Exists(ctx, registrationKeyPrefix+username).Result()
	if err != nil {
		return false, fmt.Errorf("telephony: registration lookup %s: %w", username, err)
	}
	return n > 0, nil
}
