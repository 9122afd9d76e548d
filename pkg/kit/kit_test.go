package kit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "http", GetTransport(ctx))
	assert.Empty(t, GetActor(ctx))
	assert.Empty(t, GetRequestID(ctx))

	ctx = WithTransport(WithActor(ctx, "ana"), "mcp")
	assert.Equal(t, "mcp", GetTransport(ctx))
	assert.Equal(t, "ana", GetActor(ctx))

	ctx, id := EnsureRequestID(ctx)
	require.NotEmpty(t, id)
	assert.Equal(t, id, GetRequestID(ctx))
	_, again := EnsureRequestID(ctx)
	assert.Equal(t, id, again)
}

func TestChainOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}
	ep := Chain(tag("a"), tag("b"), tag("c"))(func(_ context.Context, req any) (any, error) {
		order = append(order, "endpoint")
		return req, nil
	})

	resp, err := ep(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 7, resp)
	assert.Equal(t, []string{"a", "b", "c", "endpoint"}, order)
}

func TestLoggingAndInstrument(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	type call struct {
		transport, endpoint string
		err                 error
	}
	var calls []call
	observe := func(transport, endpoint string, err error, _ time.Duration) {
		calls = append(calls, call{transport, endpoint, err})
	}

	boom := errors.New("boom")
	ep := Chain(Logging(logger, "next_id"), Instrument(observe, "next_id"))(
		func(_ context.Context, req any) (any, error) {
			if req == nil {
				return nil, boom
			}
			return "C1000", nil
		})

	resp, err := ep(WithTransport(context.Background(), "cli"), "x")
	require.NoError(t, err)
	assert.Equal(t, "C1000", resp)

	_, err = ep(context.Background(), nil)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, []call{{"cli", "next_id", nil}, {"http", "next_id", boom}}, calls)
	out := buf.String()
	assert.Contains(t, out, "endpoint served")
	assert.Contains(t, out, "endpoint failed")
	assert.Contains(t, out, "request_id=")
}
