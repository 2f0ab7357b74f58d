// Package notify delivers operator notifications for trigger decisions,
// retractions, and manual-attention conditions. Delivery is best effort:
// a failed notification is logged and dropped, never propagated into the
// decision path.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/knolan10/BBHBot/internal/config"
)

// Notifier publishes operator-facing messages.
type Notifier interface {
	Notify(ctx context.Context, subject, body string)
}

// WebhookNotifier posts messages to a chat webhook.
type WebhookNotifier struct {
	client  *http.Client
	url     string
	timeout time.Duration
	logger  *slog.Logger
}

// NewWebhookNotifier creates a WebhookNotifier from config.
func NewWebhookNotifier(client *http.Client, cfg config.NotifyConfig, logger *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		client:  client,
		url:     cfg.WebhookURL.Reveal(),
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// Notify posts one message. Errors are logged with a delivery ID and
// swallowed.
func (n *WebhookNotifier) Notify(ctx context.Context, subject, body string) {
	deliveryID := uuid.NewString()
	logger := n.logger.With(
		slog.String("delivery_id", deliveryID),
		slog.String("subject", subject),
	)

	payload, err := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s*\n%s", subject, body),
	})
	if err != nil {
		logger.Error("failed to encode notification", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		logger.Error("failed to build notification request", slog.String("error", err.Error()))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		logger.Error("notification delivery failed", slog.String("error", err.Error()))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Error("notification rejected", slog.Int("status", resp.StatusCode))
		return
	}
	logger.Debug("notification delivered")
}

// NopNotifier discards all messages. Used when no webhook is configured and
// in tests.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, string, string) {}
