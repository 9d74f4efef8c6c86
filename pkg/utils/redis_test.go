package utils

import (
	"context"
	"testing"
	"time"
)

func TestReleaseLockScriptInitialized(t *testing.T) {
	if releaseLockScript == nil {
		t.Fatalf("expected script to be initialized")
	}
}

func TestTryLock_ValidatesArguments(t *testing.T) {
	if _, _, err := TryLock(context.Background(), nil, "k", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if err := Unlock(context.Background(), nil, "k", "t"); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestRedisConfig_Defaults(t *testing.T) {
	c := RedisConfig{Addr: "localhost:6379"}.withDefaults()
	if c.PoolSize != 20 || c.PingTimeout != 2*time.Second {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}
