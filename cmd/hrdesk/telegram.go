package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ent0n29/hrdesk/internal/app"
	"github.com/ent0n29/hrdesk/internal/gateway"
)

var telegramCmd = &cobra.Command{
	Use:   "telegram",
	Short: "Answer Telegram chats with the assistant",
	RunE:  runTelegram,
}

func runTelegram(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.TelegramBotToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	built, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer built.Close()
	built.StartBackground(ctx)

	bot, err := gateway.NewTelegram(cfg.TelegramBotToken, built.Runtime, log)
	if err != nil {
		return err
	}
	log.Info("telegram gateway running", "tasks", len(built.Registry.Intents()))
	return bot.Run(ctx)
}
