package notifier

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordAdapter posts operator notices to a single Discord channel.
type DiscordAdapter struct {
	token   string
	channel string
	session *discordgo.Session
	logger  *zap.Logger
}

// NewDiscordAdapter creates a Discord notifier adapter.
func NewDiscordAdapter(token, channel string, logger *zap.Logger) *DiscordAdapter {
	return &DiscordAdapter{
		token:   token,
		channel: channel,
		logger:  logger,
	}
}

func (a *DiscordAdapter) Platform() string { return "discord" }

// Connect opens the Discord session. Notices only need the REST surface,
// so no gateway intents are requested.
func (a *DiscordAdapter) Connect(_ context.Context) error {
	session, err := discordgo.New("Bot " + a.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	a.session = session

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	a.logger.Info("discord notifier connected",
		zap.String("user", a.session.State.User.Username))
	return nil
}

// Notify posts a notice to the configured channel.
func (a *DiscordAdapter) Notify(_ context.Context, n *Notice) error {
	content := fmt.Sprintf("**[%s] %s**\n%s", n.Kind, n.Title, n.Body)
	if _, err := a.session.ChannelMessageSend(a.channel, content); err != nil {
		return fmt.Errorf("discord notify: %w", err)
	}
	return nil
}

// Close shuts down the Discord session.
func (a *DiscordAdapter) Close() error {
	if a.session != nil {
		return a.session.Close()
	}
	return nil
}
