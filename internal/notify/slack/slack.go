// Package slack reports failed alert deliveries to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/herald/internal/alerting"
)

const (
	maxReasonLen = 3000
	httpTimeout  = 10 * time.Second
)

// Notifier implements alerting.FailureNotifier over a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, NotifyFailure is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// NotifyFailure posts a failed alert to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) NotifyFailure(ctx context.Context, al *alerting.Alert, reason string) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(al, reason)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(al *alerting.Alert, reason string) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(al),
			{"type": "divider"},
			fieldsBlock(al),
			{"type": "divider"},
			reasonBlock(reason),
			{"type": "divider"},
			contextBlock(al),
		},
	}
}

func headerBlock(al *alerting.Alert) map[string]any {
	text := fmt.Sprintf("%s Alert Delivery Failed: %s via %s", channelEmoji(al.Channel), al.AlertType, al.Channel)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(al *alerting.Alert) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Status:* %s", al.Status),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Channel:* %s", al.Channel),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Event:* %s", al.EventID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*User:* %s", al.UserID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Category:* %s", orDash(al.Category)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Scheduled:* %s", al.ScheduledAt.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func reasonBlock(reason string) map[string]any {
	text := truncate(reason, maxReasonLen)
	if text == "" {
		text = "_No reason given._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Reason*\n\n%s", text),
		},
	}
}

func contextBlock(al *alerting.Alert) map[string]any {
	ts := al.ClaimedAt
	if ts.IsZero() {
		ts = al.ScheduledAt
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("herald • alert %s • %s", al.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func channelEmoji(channel string) string {
	switch channel {
	case alerting.ChannelVoice:
		return "\U0001f534" // red circle
	case alerting.ChannelSMS:
		return "\U0001f7e0" // orange circle
	default:
		return "\U0001f7e1" // yellow circle
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
