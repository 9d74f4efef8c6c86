package routing

import (
	"context"
)

// clientIPKey carries the webhook sender's IP through routing into audit records.
// Handlers attach it with WithClientIP.
type clientIPKey struct{}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func ClientIPFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(clientIPKey{}).(string); ok {
		return s
	}
	return ""
}
