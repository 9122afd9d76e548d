package kit

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	ActorKey     contextKey = "kit_actor"
	TransportKey contextKey = "kit_transport" // "http", "mcp", "mcp_quic", "cli"
	RequestIDKey contextKey = "kit_request_id"
)

func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}
func GetActor(ctx context.Context) string {
	v, _ := ctx.Value(ActorKey).(string)
	return v
}

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "http"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

// EnsureRequestID returns ctx carrying a request id, generating one when absent.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if id := GetRequestID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return WithRequestID(ctx, id), id
}
