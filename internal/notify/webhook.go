package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/technosupport/ts-vigil/internal/data"
)

// WebhookChannel POSTs the event JSON to the recipient's URL.
type WebhookChannel struct {
	client  *http.Client
	headers map[string]string
}

func NewWebhookChannel(timeout time.Duration, headers map[string]string) *WebhookChannel {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &WebhookChannel{client: &http.Client{Timeout: timeout}, headers: headers}
}

func (w *WebhookChannel) Send(ctx context.Context, p Payload) error {
	u, err := url.Parse(p.Recipient.Target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return data.Permanent(fmt.Errorf("invalid webhook url %q", p.Recipient.Target))
	}

	body, err := encodeEvent(p)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return data.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ts-vigil")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus("webhook", resp)
}
