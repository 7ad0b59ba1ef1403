package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// WebhookDispatcher POSTs the payload as JSON to a fixed URL.
type WebhookDispatcher struct {
	client *resty.Client
	url    string
}

func NewWebhookDispatcher(url string, timeout time.Duration) *WebhookDispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookDispatcher{
		client: resty.New().
			SetTimeout(timeout).
			SetRetryCount(0).
			SetHeader("Content-Type", "application/json"),
		url: url,
	}
}

func (d *WebhookDispatcher) Dispatch(ctx context.Context, p Payload) error {
	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("X-Event-Type", string(p.Event)).
		SetBody(p).
		Post(d.url)
	if err != nil {
		return fmt.Errorf("notification: webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("notification: webhook returned status %d", resp.StatusCode())
	}
	return nil
}
