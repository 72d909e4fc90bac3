package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ent0n29/hrdesk/internal/app"
	"github.com/ent0n29/hrdesk/internal/dialogue"
	"github.com/ent0n29/hrdesk/internal/taskruntime"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the assistant in the terminal",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().String("session", "", "resume an existing session id")
	chatCmd.Flags().String("user", "", "user id for the session (default $USER)")
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("log-level") {
		cfg.LogLevel = "warn"
	}
	cfg.LogFormat = "text"
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

	sessionID, _ := cmd.Flags().GetString("session")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	user, _ := cmd.Flags().GetString("user")
	if user == "" {
		user = os.Getenv("USER")
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	out := cmd.OutOrStdout()
	if interactive {
		fmt.Fprintf(out, "Session %s. %s\nType \"exit\" to quit.\n", sessionID, dialogue.Capabilities(built.Registry))
	}
	return chatLoop(ctx, built.Runtime, sessionID, user, cmd.InOrStdin(), out, interactive)
}

func chatLoop(ctx context.Context, runtime *taskruntime.Service, sessionID, user string, in io.Reader, out io.Writer, prompt bool) error {
	scanner := bufio.NewScanner(in)
	for {
		if prompt {
			fmt.Fprint(out, "> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit", "/exit", "/quit":
			return nil
		}

		res, err := runtime.Turn(ctx, dialogue.TurnRequest{
			SessionID: sessionID,
			UserID:    user,
			TurnID:    uuid.NewString(),
			Utterance: line,
		})
		if err != nil && !errors.Is(err, dialogue.ErrStorageFailure) {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "! %v\n", err)
			continue
		}
		for _, d := range res.Directives {
			fmt.Fprintln(out, d.Text)
		}
	}
}
