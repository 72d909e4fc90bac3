package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/hrdesk/internal/dialogue"
)

type fakeRunner struct {
	got []dialogue.TurnRequest
	res dialogue.TurnResult
	err error
}

func (f *fakeRunner) Turn(_ context.Context, req dialogue.TurnRequest) (dialogue.TurnResult, error) {
	f.got = append(f.got, req)
	return f.res, f.err
}

func testBot(t *testing.T) *tgbotapi.BotAPI {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/getMe") {
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"HR","username":"hrdesk_bot"}}`))
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	bot, err := tgbotapi.NewBotAPIWithClient("token", srv.URL+"/bot%s/%s", srv.Client())
	require.NoError(t, err)
	return bot
}

func TestReplyRunsTurnPerChat(t *testing.T) {
	runner := &fakeRunner{res: dialogue.TurnResult{Directives: []dialogue.Directive{
		{Code: dialogue.CodeTaskStarted, Text: "Let's get your time off request started."},
		{Code: dialogue.CodeAskSlot, Text: "What is your name?"},
	}}}
	tg, err := NewTelegramWithBot(testBot(t), runner, nil)
	require.NoError(t, err)

	got := tg.Reply(context.Background(), 42, 7, "priya", "I need time off")
	assert.Equal(t, "Let's get your time off request started.\nWhat is your name?", got)
	require.Len(t, runner.got, 1)
	assert.Equal(t, dialogue.TurnRequest{SessionID: "telegram-42", UserID: "priya", TurnID: "tg-7", Utterance: "I need time off"}, runner.got[0])
}

func TestReplyOnFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("boom")}
	tg, err := NewTelegramWithBot(testBot(t), runner, nil)
	require.NoError(t, err)
	assert.Equal(t, troubleReply, tg.Reply(context.Background(), 1, 1, "", "hi"))

	runner.err = dialogue.ErrStorageFailure
	runner.res = dialogue.TurnResult{Directives: []dialogue.Directive{{Code: dialogue.CodeStorageFailure, Text: "I couldn't save that."}}}
	assert.Equal(t, "I couldn't save that.", tg.Reply(context.Background(), 1, 2, "", "hi"))
}

func TestCommandText(t *testing.T) {
	tests := map[string]string{
		"/start":                 "hello",
		"/help@hrdesk_bot":       "hello",
		"/cancel":                "cancel",
		"/ticket laptop is dead": "laptop is dead",
		"/meeting":               "meeting",
		"  book a meeting ":      "book a meeting",
	}
	for in, want := range tests {
		assert.Equal(t, want, commandText(in), in)
	}
}

func TestNewTelegramWithBotValidates(t *testing.T) {
	_, err := NewTelegramWithBot(nil, &fakeRunner{}, nil)
	assert.Error(t, err)
	_, err = NewTelegram("", &fakeRunner{}, nil)
	assert.Error(t, err)
}
