// Package slack posts triage outcomes to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/docket/internal/triage"
)

const (
	maxRationaleLen = 2000
	maxTitleLen     = 120
	httpTimeout     = 10 * time.Second
)

// Notifier sends triage outcomes to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

var _ triage.Notifier = (*Notifier)(nil)

// New creates a Slack notifier. If webhookURL is empty, Notify is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Notify posts a triage outcome to the configured webhook.
func (n *Notifier) Notify(ctx context.Context, note *triage.Notification) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(note))
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

	n.logger.Info(ctx, "slack notification sent",
		"ticket_id", note.Ticket.ID,
		"priority", string(note.Outcome.Priority),
	)
	return nil
}

func buildMessage(note *triage.Notification) map[string]any {
	return map[string]any{
		"text": fmt.Sprintf("Ticket %s triaged as %s", note.Ticket.ID, note.Outcome.Priority),
		"blocks": []map[string]any{
			headerBlock(note),
			fieldsBlock(note),
			{"type": "divider"},
			rationaleBlock(note),
			contextBlock(note),
		},
	}
}

func headerBlock(note *triage.Notification) map[string]any {
	text := fmt.Sprintf("%s %s: %s", priorityEmoji(note.Outcome.Priority), note.Outcome.Priority,
		truncate(note.Ticket.Title, maxTitleLen))

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(note *triage.Notification) map[string]any {
	area := note.Ticket.ProductArea
	if area == "" {
		area = "n/a"
	}
	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Priority:* %s", note.Outcome.Priority)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Confidence:* %.0f%%", note.Outcome.Confidence*100)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Assignee:* %s", note.Outcome.Assignee)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Product area:* %s", area)},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func rationaleBlock(note *triage.Notification) map[string]any {
	text := truncate(note.Outcome.Rationale, maxRationaleLen)
	if text == "" {
		text = "_No rationale recorded._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Rationale*\n\n%s", text),
		},
	}
}

func contextBlock(note *triage.Notification) map[string]any {
	ts := note.Ticket.UpdatedAt
	if ts.IsZero() {
		ts = note.Ticket.CreatedAt
	}

	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("docket • ticket %s • %s", note.Ticket.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}

func priorityEmoji(level triage.Level) string {
	switch level {
	case triage.P0:
		return "\U0001f534" // red circle
	case triage.P1:
		return "\U0001f7e0" // orange circle
	case triage.P2:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

// truncate cuts s to at most limit runes, marking the cut with "...".
func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}
