package interceptors

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

func TestTraceServerInterceptor_PropagatesMetadata(t *testing.T) {
	md := metadata.Pairs("x-request-id", "req-42", "x-idempotency-key", "idem-7")
	ctx := metadata.NewIncomingContext(context.Background(), md)

	var seenRequestID, seenKey string
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		seenRequestID = RequestIDFromContext(ctx)
		seenKey = IdempotencyKeyFromContext(ctx)
		return "ok", nil
	}

	interceptor := TraceServerInterceptor(slog.New(slog.NewTextHandler(io.Discard, nil)))
	resp, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, handler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.Equal(t, "req-42", seenRequestID)
	assert.Equal(t, "idem-7", seenKey)
}

func TestRequestIDFromContext_FallsBackToMetadata(t *testing.T) {
	ctx := metadata.NewOutgoingContext(context.Background(), metadata.Pairs("x-request-id", "out-1"))
	assert.Equal(t, "out-1", RequestIDFromContext(ctx))
	assert.Equal(t, "", RequestIDFromContext(context.Background()))
}
