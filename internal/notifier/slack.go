package notifier

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackAdapter posts operator notices to a single Slack channel.
type SlackAdapter struct {
	client  *slack.Client
	channel string
	logger  *zap.Logger
}

// NewSlackAdapter creates a Slack notifier adapter.
// botToken is the Bot User OAuth Token (xoxb-...).
func NewSlackAdapter(botToken, channel string, logger *zap.Logger) *SlackAdapter {
	return &SlackAdapter{
		client:  slack.New(botToken),
		channel: channel,
		logger:  logger,
	}
}

func (a *SlackAdapter) Platform() string { return "slack" }

// Connect verifies the token with an auth test.
func (a *SlackAdapter) Connect(ctx context.Context) error {
	resp, err := a.client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	a.logger.Info("slack notifier connected", zap.String("bot", resp.User))
	return nil
}

// Notify posts a notice to the configured channel.
func (a *SlackAdapter) Notify(ctx context.Context, n *Notice) error {
	text := fmt.Sprintf("*[%s] %s*\n%s", n.Kind, n.Title, n.Body)
	_, _, err := a.client.PostMessageContext(ctx, a.channel,
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		return fmt.Errorf("slack notify: %w", err)
	}
	return nil
}

func (a *SlackAdapter) Close() error { return nil }
