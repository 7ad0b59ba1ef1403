package ports

import (
	"context"

	"github.com/jcmexdev/storefront-checkout/internal/ratelimit"
)

type RateLimiter interface {
	Check(ctx context.Context, identifier string, action ratelimit.Action) (ratelimit.Decision, error)
	RecordSuccess(ctx context.Context, identifier string, action ratelimit.Action) error
	Status(ctx context.Context, identifier string, action ratelimit.Action) (ratelimit.Status, error)
}
