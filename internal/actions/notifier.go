package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/hrdesk/internal/dialogue"
	"github.com/ent0n29/hrdesk/internal/logging"
)

// Notification is one composed message ready for delivery.
type Notification struct {
	TaskID    string                        `json:"task_id"`
	SessionID string                        `json:"session_id"`
	UserID    string                        `json:"user_id,omitempty"`
	Intent    string                        `json:"intent"`
	Action    string                        `json:"action"`
	Text      string                        `json:"text"`
	Slots     map[string]dialogue.SlotValue `json:"slots"`
}

// Notifier delivers a notification to people outside the conversation.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier only writes the notification to the log.
type LogNotifier struct {
	log logging.Logger
}

func NewLogNotifier(log logging.Logger) *LogNotifier {
	return &LogNotifier{log: logging.OrNop(log)}
}

func (l *LogNotifier) Name() string { return "log" }

func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.log.Info("action dispatched",
		"task_id", n.TaskID,
		"session_id", n.SessionID,
		"intent", n.Intent,
		"action", n.Action,
		"text", n.Text,
	)
	return nil
}

// Config selects and configures the notifier.
type Config struct {
	Mode                  string
	WebhookURL            string
	DiscordToken          string
	DiscordChannels       map[string]string
	DiscordDefaultChannel string
	TelegramToken         string
	TelegramChatID        int64
}

func NewNotifier(cfg Config, log logging.Logger) (Notifier, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "log"
	}
	switch mode {
	case "log":
		return NewLogNotifier(log), nil
	case "webhook":
		if strings.TrimSpace(cfg.WebhookURL) == "" {
			return nil, errors.New("webhook url is required for webhook actions")
		}
		return NewWebhookNotifier(cfg.WebhookURL, nil), nil
	case "discord":
		return NewDiscordNotifier(cfg.DiscordToken, cfg.DiscordChannels, cfg.DiscordDefaultChannel)
	case "telegram":
		return NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID)
	default:
		return nil, fmt.Errorf("unsupported action mode %q", cfg.Mode)
	}
}
