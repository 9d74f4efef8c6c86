package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxTeamIDs
	ctxRole
)

func WithIdentity(ctx context.Context, userID string, teamIDs []string, role string) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxTeamIDs, teamIDs)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

func UserID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxUserID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("user_id not in context")
}

// TeamIDs returns the teams the caller belongs to; empty when unknown.
func TeamIDs(ctx context.Context) []string {
	ids, _ := ctx.Value(ctxTeamIDs).([]string)
	return ids
}

func Role(ctx context.Context) (string, error) {
	v := ctx.Value(ctxRole)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("role not in context")
}
