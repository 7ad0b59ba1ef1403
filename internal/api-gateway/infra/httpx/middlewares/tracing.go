package middlewares

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"google.golang.org/grpc/metadata"

	"github.com/jcmexdev/storefront-checkout/internal/pkg/interceptors"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/interceptors/constants"
)

// AttachTracingMetadata copies the chi request id and the client idempotency
// key into the context, and into outgoing gRPC metadata, and echoes the
// request id back to the client.
func AttachTracingMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		idempotencyKey := r.Header.Get(constants.HeaderIdempotencyKey)
		if idempotencyKey == "" {
			idempotencyKey = r.Header.Get(constants.HeaderXIdempotencyKey)
		}

		ctx := interceptors.WithRequestMetadata(r.Context(), requestID, idempotencyKey)
		ctx = metadata.AppendToOutgoingContext(ctx,
			constants.HeaderXRequestId, requestID,
			constants.HeaderXIdempotencyKey, idempotencyKey,
		)

		if requestID != "" {
			w.Header().Set(middleware.RequestIDHeader, requestID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
