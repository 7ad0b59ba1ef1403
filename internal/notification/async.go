package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultAsyncTimeout = 10 * time.Second

// Async runs the wrapped dispatcher in the background. Errors and panics
// are logged; Dispatch itself always returns nil.
type Async struct {
	next    Dispatcher
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewAsync(next Dispatcher, logger *slog.Logger) *Async {
	if logger == nil {
		logger = slog.Default()
	}
	return &Async{next: next, logger: logger, timeout: defaultAsyncTimeout}
}

func (a *Async) Dispatch(ctx context.Context, p Payload) error {
	// detach from the request so the notification outlives it
	bg := context.WithoutCancel(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				a.logger.ErrorContext(bg, "notification dispatcher panicked",
					"order_id", p.OrderID, "panic", fmt.Sprint(r))
			}
		}()

		ctx, cancel := context.WithTimeout(bg, a.timeout)
		defer cancel()
		if err := a.next.Dispatch(ctx, p); err != nil {
			a.logger.WarnContext(ctx, "notification failed",
				"event", string(p.Event), "order_id", p.OrderID, "error", err)
		}
	}()
	return nil
}

// Wait blocks until all in-flight notifications finished.
func (a *Async) Wait() {
	a.wg.Wait()
}
