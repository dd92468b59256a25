package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Category classifies a notification for routing on the receiving end.
type Category string

const (
	CategoryBatchCompleted Category = "batch_completed"
	CategoryBatchFailed    Category = "batch_failed"
)

// Notification is one message delivered to the dashboard webhook.
type Notification struct {
	Tenant    string         `json:"tenant"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Category  Category       `json:"category"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notifier delivers best-effort notifications via webhook. An empty webhook
// URL disables delivery entirely.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a Notifier for the given webhook URL.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the notification. Failures are logged, never returned: a
// missed notification must not affect batch outcomes.
func (n *Notifier) Send(ctx context.Context, notification Notification) {
	if n.webhookURL == "" {
		return
	}
	if notification.Timestamp.IsZero() {
		notification.Timestamp = time.Now().UTC()
	}

	if err := n.post(ctx, notification); err != nil {
		zap.L().Error("notification delivery failed",
			zap.String("category", string(notification.Category)),
			zap.String("tenant", notification.Tenant),
			zap.Error(err),
		)
		return
	}
	zap.L().Info("notification sent",
		zap.String("category", string(notification.Category)),
		zap.String("tenant", notification.Tenant),
	)
}

func (n *Notifier) post(ctx context.Context, notification Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return eris.Wrap(err, "notify: marshal notification")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
