package interceptors

import (
	"context"

	"google.golang.org/grpc/metadata"

	"github.com/jcmexdev/storefront-checkout/internal/pkg/interceptors/constants"
)

// WithRequestMetadata stores the request id and idempotency key in ctx.
func WithRequestMetadata(ctx context.Context, requestID, idempotencyKey string) context.Context {
	ctx = context.WithValue(ctx, constants.ContextKeyRequestID, requestID)
	return context.WithValue(ctx, constants.ContextKeyIdempotencyKey, idempotencyKey)
}

// RequestIDFromContext returns the request id set by the HTTP middleware or
// the gRPC interceptor, or "" if there is none.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(constants.ContextKeyRequestID).(string); ok {
		return id
	}
	return GetMetadataValue(ctx, constants.HeaderXRequestId)
}

// IdempotencyKeyFromContext returns the client-supplied idempotency key.
func IdempotencyKeyFromContext(ctx context.Context) string {
	if key, ok := ctx.Value(constants.ContextKeyIdempotencyKey).(string); ok {
		return key
	}
	return GetMetadataValue(ctx, constants.HeaderXIdempotencyKey)
}

// GetMetadataValue reads key from incoming, then outgoing, gRPC metadata.
func GetMetadataValue(ctx context.Context, key string) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(key); len(ids) > 0 {
			return ids[0]
		}
	}

	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		if ids := md.Get(key); len(ids) > 0 {
			return ids[0]
		}
	}
	return ""
}
