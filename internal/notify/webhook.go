package notify

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/firewatch/flames/internal/protocol"
)

// Webhook paths on the API that rebroadcasts to WebSocket clients
var webhookPaths = map[string]string{
	protocol.EventNewReading:     "/notify-new-data",
	protocol.EventIncidentUpdate: "/notify-incident",
}

// WebhookSink POSTs events as JSON to the API
type WebhookSink struct {
	client *resty.Client
}

// NewWebhookSink creates a sink for baseURL. No retries.
func NewWebhookSink(baseURL string) *WebhookSink {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json")

	return &WebhookSink{client: client}
}

// Name implements Sink
func (s *WebhookSink) Name() string {
	return "webhook"
}

// Deliver implements Sink
func (s *WebhookSink) Deliver(ctx context.Context, ev Event) error {
	path, ok := webhookPaths[ev.Kind]
	if !ok {
		return fmt.Errorf("no webhook for event %s", ev.Kind)
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(ev.Body).
		Post(path)
	if err != nil {
		return fmt.Errorf("failed to post %s: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode())
	}
	return nil
}
