package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/hrdesk/internal/dialogue"
	"github.com/ent0n29/hrdesk/internal/reliability"
	"github.com/ent0n29/hrdesk/internal/store"
)

func ticketRequest() dialogue.ExecuteRequest {
	return dialogue.ExecuteRequest{
		TaskID:    "task-1",
		SessionID: "s1",
		Intent:    "submit_it_ticket",
		Action:    "post_it_ticket",
		Slots: map[string]dialogue.SlotValue{
			"requester_name":    {Value: "Priya", Source: dialogue.SourceUser},
			"issue_category":    {Value: "Hardware", Source: dialogue.SourceUser},
			"issue_description": {Value: "laptop will not boot", Source: dialogue.SourceUser},
			"urgency":           {Value: "medium", Source: dialogue.SourceFallback},
		},
		Fields: []string{"requester_name", "issue_category", "issue_description", "urgency", "affected_system"},
	}
}

func TestTemplateComposer(t *testing.T) {
	c, err := NewTemplateComposer()
	require.NoError(t, err)

	got, err := c.Compose(context.Background(), ticketRequest())
	require.NoError(t, err)
	assert.Equal(t, "IT ticket from Priya [medium] Hardware: laptop will not boot", got)

	req := ticketRequest()
	req.Action = "custom_action"
	got, err = c.Compose(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "New submit it ticket request\n- requester name: Priya\n- issue category: Hardware\n"+
		"- issue description: laptop will not boot\n- urgency: medium (default)", got)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

func newRouter(t *testing.T, n Notifier, rec Recorder) *Router {
	t.Helper()
	c, err := NewTemplateComposer()
	require.NoError(t, err)
	r, err := NewRouter(RouterOptions{Composer: c, Notifier: n, Recorder: rec})
	require.NoError(t, err)
	return r
}

func TestRouterDeliversOnce(t *testing.T) {
	n := &recordingNotifier{}
	rec := store.NewMemoryStore()
	r := newRouter(t, n, rec)

	res, err := r.Execute(context.Background(), ticketRequest())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, Summary("post_it_ticket"), res.Summary)

	again, err := r.Execute(context.Background(), ticketRequest())
	require.NoError(t, err)
	assert.Equal(t, res, again)
	assert.Len(t, n.sent, 1)
	assert.Equal(t, dialogue.SourceFallback, n.sent[0].Slots["urgency"].Source)

	log, err := rec.Actions(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, store.ActionSent, log[0].Status)
	assert.Contains(t, log[0].Payload, `"source":"fallback"`)
}

func TestRouterSkipsTasksFoundInActionLog(t *testing.T) {
	rec := store.NewMemoryStore()
	first := &recordingNotifier{}
	_, err := newRouter(t, first, rec).Execute(context.Background(), ticketRequest())
	require.NoError(t, err)

	// A new router over the same log, as after a restart.
	second := &recordingNotifier{}
	res, err := newRouter(t, second, rec).Execute(context.Background(), ticketRequest())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, Summary("post_it_ticket"), res.Summary)
	assert.Empty(t, second.sent)

	log, err := rec.Actions(context.Background(), "s1", 0)
	require.NoError(t, err)
	assert.Len(t, log, 1)
}

func TestRouterCacheIsBounded(t *testing.T) {
	n := &recordingNotifier{}
	r := newRouter(t, n, nil)
	for i := 0; i <= maxRemembered; i++ {
		req := ticketRequest()
		req.TaskID = fmt.Sprintf("task-%d", i)
		_, err := r.Execute(context.Background(), req)
		require.NoError(t, err)
	}
	assert.Len(t, r.done, maxRemembered)
	assert.NotContains(t, r.done, "task-0")
	assert.Contains(t, r.done, fmt.Sprintf("task-%d", maxRemembered))
}

func TestRouterReportsDeliveryFailure(t *testing.T) {
	n := &recordingNotifier{err: errors.New("channel not found")}
	rec := store.NewMemoryStore()
	r := newRouter(t, n, rec)

	res, err := r.Execute(context.Background(), ticketRequest())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Reason, "channel not found")

	log, err := rec.Actions(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, store.ActionFailed, log[0].Status)

	// A failed delivery is not cached.
	n.err = nil
	res, err = r.Execute(context.Background(), ticketRequest())
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestNewRouterValidates(t *testing.T) {
	_, err := NewRouter(RouterOptions{Notifier: &recordingNotifier{}})
	assert.Error(t, err)
	c, _ := NewTemplateComposer()
	_, err = NewRouter(RouterOptions{Composer: c})
	assert.Error(t, err)
}

func fastWebhook(url string) *WebhookNotifier {
	w := NewWebhookNotifier(url, nil)
	w.policy = reliability.Policy{Attempts: 3, Base: time.Millisecond, Cap: time.Millisecond}
	return w
}

func TestWebhookRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	var got Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "task-1", r.Header.Get("Idempotency-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := fastWebhook(srv.URL).Notify(context.Background(), Notification{TaskID: "task-1", Intent: "submit_it_ticket", Text: "hello"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, "hello", got.Text)
}

func TestWebhookDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := fastWebhook(srv.URL).Notify(context.Background(), Notification{TaskID: "task-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.EqualValues(t, 1, calls.Load())
}

func TestDiscordNotifierRoutesByIntent(t *testing.T) {
	type sent struct{ channel, text string }
	var out []sent
	d, err := newDiscordNotifier(map[string]string{"SUBMIT_IT_TICKET": "it-chan"}, "hr-chan", func(channel, text string) error {
		out = append(out, sent{channel, text})
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, d.Notify(context.Background(), Notification{Intent: "submit_it_ticket", Text: "a"}))
	require.NoError(t, d.Notify(context.Background(), Notification{Intent: "request_time_off", Text: "b"}))
	assert.Equal(t, []sent{{"it-chan", "a"}, {"hr-chan", "b"}}, out)

	_, err = newDiscordNotifier(nil, "", nil)
	assert.Error(t, err)
}

func TestTelegramNotifierSendsToChat(t *testing.T) {
	var (
		mu     sync.Mutex
		chatID string
		text   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"HR","username":"hrdesk_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			assert.NoError(t, r.ParseForm())
			mu.Lock()
			chatID, text = r.FormValue("chat_id"), r.FormValue("text")
			mu.Unlock()
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":1,"chat":{"id":42,"type":"group"},"text":"ok"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	bot, err := tgbotapi.NewBotAPIWithClient("token", srv.URL+"/bot%s/%s", srv.Client())
	require.NoError(t, err)
	n, err := NewTelegramNotifierWithBot(bot, 42)
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), Notification{Text: "New IT ticket"}))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "42", chatID)
	assert.Equal(t, "New IT ticket", text)

	_, err = NewTelegramNotifierWithBot(bot, 0)
	assert.Error(t, err)
}

func TestNewNotifierModes(t *testing.T) {
	n, err := NewNotifier(Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "log", n.Name())

	n, err = NewNotifier(Config{Mode: "webhook", WebhookURL: "http://example.invalid/hook"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "webhook", n.Name())

	_, err = NewNotifier(Config{Mode: "webhook"}, nil)
	assert.Error(t, err)
	_, err = NewNotifier(Config{Mode: "discord"}, nil)
	assert.Error(t, err)
	_, err = NewNotifier(Config{Mode: "telegram"}, nil)
	assert.Error(t, err)
	_, err = NewNotifier(Config{Mode: "carrier-pigeon"}, nil)
	assert.Error(t, err)
}
