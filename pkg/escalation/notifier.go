package escalation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// LogNotifier records each escalation notification to the log. It is the
// default dispatch target when no webhook endpoint is configured, so level
// transitions always leave an operator-visible trace.
type LogNotifier struct {
	Logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{Logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.Logger.Info("approval escalation",
		"request_id", note.RequestID,
		"channel", note.Channel,
		"target", note.Target,
		"level", note.Level,
		"deadline", note.Deadline)
	return nil
}

// WebhookNotifier POSTs each notification as JSON to a single endpoint,
// typically a chat relay or approvals bot that fans out per channel. A non-2xx
// response is a delivery failure, which the scheduler reports to the Governor
// so a dead endpoint trips the notification breaker.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string, client *http.Client) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookNotifier{url: url, client: client}
}

func (n *WebhookNotifier) Notify(ctx context.Context, note Notification) error {
	body, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("escalation: encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("escalation: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("escalation: webhook dispatch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("escalation: webhook returned %d", resp.StatusCode)
	}
	return nil
}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*WebhookNotifier)(nil)
)
