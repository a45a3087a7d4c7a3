// Package notifier defines the Notifier provider port (spec section
// 4.3) used for human-review escalations; nothing sends summaries. The
// webhook adapter follows the teacher's Alerter (internal/engine/alerter.go)
// shape — build subject/body, then deliver — generalized from SMTP to a
// named-channel webhook POST.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/salesloop/internal/pkg/logger"
)

// Notifier is the narrow port for human-facing alerts.
type Notifier interface {
	Send(ctx context.Context, channel string, payload map[string]any) error
}

// WebhookNotifier posts a JSON payload to a configured webhook URL
// (e.g. a Slack incoming webhook). When no URL is configured it logs
// the alert instead of failing the caller, mirroring the teacher's
// Alerter fallback when SMTP isn't configured.
type WebhookNotifier struct {
	webhookURL string
	client     *http.Client
}

func NewWebhookNotifier(webhookURL string) *WebhookNotifier {
	return &WebhookNotifier{webhookURL: webhookURL, client: &http.Client{Timeout: 10 * time.Second}}
}

func (n *WebhookNotifier) Send(ctx context.Context, channel string, payload map[string]any) error {
	if n.webhookURL == "" {
		logger.Info("notifier: would send", "channel", channel, "payload", fmt.Sprintf("%v", payload))
		return nil
	}

	body := map[string]any{"channel": channel, "payload": payload}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		logger.Error("notifier: send failed", "channel", channel, "error", err.Error())
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("notifier: webhook returned %d", resp.StatusCode)
	}
	return nil
}
