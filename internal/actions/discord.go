package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// DiscordNotifier posts to a channel per intent, falling back to the
// default channel.
type DiscordNotifier struct {
	channels       map[string]string
	defaultChannel string
	send           func(channelID, content string) error
}

func NewDiscordNotifier(token string, channels map[string]string, defaultChannel string) (*DiscordNotifier, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("discord bot token is required")
	}
	s, err := discordgo.New("Bot " + strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("init discord session: %w", err)
	}
	return newDiscordNotifier(channels, defaultChannel, func(channelID, content string) error {
		_, err := s.ChannelMessageSend(channelID, content)
		return err
	})
}

func newDiscordNotifier(channels map[string]string, defaultChannel string, send func(string, string) error) (*DiscordNotifier, error) {
	if strings.TrimSpace(defaultChannel) == "" && len(channels) == 0 {
		return nil, errors.New("at least one discord channel is required")
	}
	c := make(map[string]string, len(channels))
	for intent, id := range channels {
		c[strings.ToLower(intent)] = id
	}
	return &DiscordNotifier{channels: c, defaultChannel: strings.TrimSpace(defaultChannel), send: send}, nil
}

func (d *DiscordNotifier) Name() string { return "discord" }

func (d *DiscordNotifier) Notify(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	channel := d.channels[n.Intent]
	if channel == "" {
		channel = d.defaultChannel
	}
	if channel == "" {
		return fmt.Errorf("no discord channel configured for %s", n.Intent)
	}
	if err := d.send(channel, n.Text); err != nil {
		return fmt.Errorf("discord send to %s: %w", channel, err)
	}
	return nil
}
