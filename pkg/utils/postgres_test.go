package utils

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestPostgresPoolConfig_Defaults(t *testing.T) {
	c := PostgresPoolConfig{}.withDefaults()
	if c.MaxOpenConns != 25 || c.MaxIdleConns != 25 {
		t.Fatalf("unexpected pool sizes: %+v", c)
	}
	if c.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected ping timeout: %v", c.PingTimeout)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	wrapped := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	if !IsUniqueViolation(wrapped) {
		t.Fatalf("expected unique violation")
	}
	if IsUniqueViolation(errors.New("x")) {
		t.Fatalf("plain error is not a unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "40001"}) {
		t.Fatalf("serialization failure is not a unique violation")
	}
}
