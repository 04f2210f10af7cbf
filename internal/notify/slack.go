// Package notify sends human-facing alerts for events that need attention
// outside the event-driven pipeline: clarification requests and approval
// gates. Grounded on spec §4.8's HUMAN.APPROVAL_REQUESTED /
// CLARIFICATION.NEEDED side effects and generalized from
// original_source/services/orchestrator/main.py's notification hooks.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
)

// Notifier posts human-facing alerts to Slack, or is a silent no-op when no
// webhook URL is configured.
type Notifier struct {
	webhookURL string
	channel    string
	logger     *slog.Logger
}

// New builds a Notifier. An empty webhookURL makes every call a no-op,
// matching spec's stance that Slack is an optional ambient integration.
func New(webhookURL, channel string, logger *slog.Logger) *Notifier {
	return &Notifier{webhookURL: webhookURL, channel: channel, logger: logger}
}

// Enabled reports whether this Notifier will actually post anything.
func (n *Notifier) Enabled() bool {
	return n.webhookURL != ""
}

// ClarificationNeeded alerts that a backlog item is blocked pending a human
// answer to questionText.
func (n *Notifier) ClarificationNeeded(ctx context.Context, projectID, backlogItemID, questionText string) error {
	return n.post(ctx, fmt.Sprintf(":question: Project `%s` item `%s` needs clarification: %s", projectID, backlogItemID, questionText))
}

// ApprovalRequested alerts that a backlog item is waiting on human approval
// before it can be dispatched.
func (n *Notifier) ApprovalRequested(ctx context.Context, projectID, backlogItemID string) error {
	return n.post(ctx, fmt.Sprintf(":raised_hand: Project `%s` item `%s` is waiting on human approval.", projectID, backlogItemID))
}

// Incident alerts that messageID's phase has entered incident mode.
func (n *Notifier) Incident(ctx context.Context, messageID, phase, reason string) error {
	return n.post(ctx, fmt.Sprintf(":rotating_light: Incident: message `%s` phase `%s` failed: %s", messageID, phase, reason))
}

func (n *Notifier) post(_ context.Context, text string) error {
	if !n.Enabled() {
		return nil
	}
	msg := &slack.WebhookMessage{Text: text}
	if n.channel != "" {
		msg.Channel = n.channel
	}
	if err := slack.PostWebhook(n.webhookURL, msg); err != nil {
		n.logger.Warn("failed to post slack notification", slog.Any("error", err))
		return err
	}
	return nil
}
