package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultWebhookTimeout = 15 * time.Second

// WebhookNotifier POSTs each message as JSON to an email-delivery endpoint,
// which renders the template and sends the mail.
type WebhookNotifier struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client
}

// NewWebhookNotifier returns a notifier posting to url with apiKey in the Authorization header.
func NewWebhookNotifier(url, apiKey string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:        url,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: defaultWebhookTimeout},
	}
}

func (n *WebhookNotifier) Send(ctx context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	raw, err := Encode(m)
	if err != nil {
		return err
	}
	return n.Deliver(ctx, raw)
}

// Deliver posts an already encoded message. Used by the worker to forward queue payloads.
func (n *WebhookNotifier) Deliver(ctx context.Context, payload []byte) error {
	if n.URL == "" {
		return fmt.Errorf("notify: webhook URL not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.APIKey != "" {
		req.Header.Set("Authorization", n.APIKey)
	}
	resp, err := n.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("notify: webhook failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}

func (n *WebhookNotifier) Close() error {
	n.HTTPClient.CloseIdleConnections()
	return nil
}
