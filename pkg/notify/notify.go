// Package notify posts operational notifications to a Slack channel. With no
// token or channel configured every notification degrades to a log line.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
)

// Notifier receives fleet events worth telling an operator about.
type Notifier interface {
	EntityErrored(ctx context.Context, platform, entityID, containerID, message string, errorCount int)
	FleetPopulated(ctx context.Context, platform string, created int)
}

// SlackNotifier posts notifications via the Slack Web API.
type SlackNotifier struct {
	client  *slack.Client
	channel string
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. When botToken or channel is empty the
// returned notifier only logs.
func NewNotifier(botToken, channel string, logger *slog.Logger) Notifier {
	if botToken == "" || channel == "" {
		logger.Info("slack ops notifications disabled")
		return &noopNotifier{logger: logger}
	}
	return &SlackNotifier{
		client:  slack.New(botToken),
		channel: channel,
		logger:  logger,
	}
}

// EntityErrored reports a coordination row that crossed the error threshold.
func (n *SlackNotifier) EntityErrored(ctx context.Context, platform, entityID, containerID, message string, errorCount int) {
	text := fmt.Sprintf(":rotating_light: entity `%s` (%s) errored %d times on container `%s`: %s",
		entityID, platform, errorCount, containerID, message)
	n.post(ctx, text)
}

// FleetPopulated reports newly seeded coordination rows.
func (n *SlackNotifier) FleetPopulated(ctx context.Context, platform string, created int) {
	n.post(ctx, fmt.Sprintf(":satellite: populated %d new %s coordination entities", created, platform))
}

func (n *SlackNotifier) post(ctx context.Context, text string) {
	_, _, err := n.client.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		n.logger.Warn("posting slack notification", "error", err)
	}
}

type noopNotifier struct {
	logger *slog.Logger
}

func (n *noopNotifier) EntityErrored(_ context.Context, platform, entityID, containerID, message string, errorCount int) {
	n.logger.Warn("entity errored",
		"platform", platform, "entity_id", entityID,
		"container_id", containerID, "error_count", errorCount, "message", message)
}

func (n *noopNotifier) FleetPopulated(_ context.Context, platform string, created int) {
	n.logger.Info("fleet populated", "platform", platform, "created", created)
}
