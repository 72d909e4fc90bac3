// Package gateway connects chat platforms to the task runtime.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ent0n29/hrdesk/internal/dialogue"
	"github.com/ent0n29/hrdesk/internal/logging"
)

const troubleReply = "Sorry, I'm having trouble right now. Please try again in a moment."

// TurnRunner runs one user turn. taskruntime.Service satisfies it.
type TurnRunner interface {
	Turn(ctx context.Context, req dialogue.TurnRequest) (dialogue.TurnResult, error)
}

// Telegram answers direct chats with a bot. Each chat is one session.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	runner TurnRunner
	log    logging.Logger
}

func NewTelegram(token string, runner TurnRunner, log logging.Logger) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram bot token is required")
	}
	bot, err := tgbotapi.NewBotAPI(strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	return NewTelegramWithBot(bot, runner, log)
}

func NewTelegramWithBot(bot *tgbotapi.BotAPI, runner TurnRunner, log logging.Logger) (*Telegram, error) {
	if bot == nil || runner == nil {
		return nil, errors.New("telegram gateway requires a bot and a runner")
	}
	log = logging.OrNop(log).With("component", "telegram")
	log.Info("telegram bot authorized", "username", bot.Self.UserName)
	return &Telegram{bot: bot, runner: runner, log: log}, nil
}

// Run long-polls for updates until ctx is done.
func (t *Telegram) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.bot.GetUpdatesChan(u)
	defer t.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || strings.TrimSpace(update.Message.Text) == "" {
				continue
			}
			t.handle(ctx, update.Message)
		}
	}
}

func (t *Telegram) handle(ctx context.Context, msg *tgbotapi.Message) {
	user := ""
	if msg.From != nil {
		user = msg.From.UserName
		if user == "" {
			user = strconv.FormatInt(msg.From.ID, 10)
		}
	}
	reply := t.Reply(ctx, msg.Chat.ID, msg.MessageID, user, msg.Text)
	if reply == "" {
		return
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(msg.Chat.ID, reply)); err != nil {
		t.log.Warn("telegram reply failed", "chat_id", msg.Chat.ID, "error", err)
	}
}

// Reply runs the text as a turn for the chat's session and renders the
// directives as one message.
func (t *Telegram) Reply(ctx context.Context, chatID int64, messageID int, user, text string) string {
	sessionID := SessionID(chatID)
	res, err := t.runner.Turn(ctx, dialogue.TurnRequest{
		SessionID: sessionID,
		UserID:    user,
		TurnID:    fmt.Sprintf("tg-%d", messageID),
		Utterance: commandText(text),
	})
	if err != nil {
		t.log.Warn("telegram turn failed", "session_id", sessionID, "error", err)
		if !errors.Is(err, dialogue.ErrStorageFailure) || len(res.Directives) == 0 {
			return troubleReply
		}
	}
	return Render(res.Directives)
}

// SessionID derives the session id for a Telegram chat.
func SessionID(chatID int64) string {
	return "telegram-" + strconv.FormatInt(chatID, 10)
}

// Render joins directive texts into one chat message.
func Render(directives []dialogue.Directive) string {
	lines := make([]string, 0, len(directives))
	for _, d := range directives {
		if text := strings.TrimSpace(d.Text); text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, "\n")
}

// commandText maps bot commands onto plain utterances.
func commandText(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return text
	}
	cmd, rest, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	switch strings.ToLower(cmd) {
	case "/start", "/help":
		return "hello"
	case "/cancel":
		return "cancel"
	default:
		if strings.TrimSpace(rest) != "" {
			return strings.TrimSpace(rest)
		}
		return strings.TrimPrefix(cmd, "/")
	}
}
