package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/hrdesk/internal/reliability"
)

// WebhookNotifier posts the notification as JSON. The task id travels as
// the Idempotency-Key header so receivers can drop retried deliveries.
type WebhookNotifier struct {
	url    string
	client *http.Client
	policy reliability.Policy
}

func NewWebhookNotifier(url string, client *http.Client) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookNotifier{
		url:    strings.TrimSpace(url),
		client: client,
		policy: reliability.DefaultPolicy,
	}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return reliability.Do(ctx, w.policy, func(int) error {
		return w.post(ctx, n.TaskID, payload)
	})
}

func (w *WebhookNotifier) post(ctx context.Context, key string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return reliability.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)

	res, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	err = fmt.Errorf("webhook status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	if !reliability.IsRetryableHTTPStatus(res.StatusCode) {
		return reliability.Permanent(err)
	}
	return err
}
