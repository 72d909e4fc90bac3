package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ent0n29/hrdesk/internal/dialogue"
)

var base = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func sampleSession(id string, updated time.Time) *dialogue.Session {
	sess := dialogue.NewSession(id, "u1", base)
	sess.UpdatedAt = updated
	sess.TurnCount = 2
	sess.Queue = []string{"request_time_off"}
	sess.LastTurnID = "turn-2"
	sess.Active = &dialogue.TaskInstance{
		ID:     "task-1",
		Intent: "submit_it_ticket",
		Status: dialogue.StatusAwaitingConfirmation,
		Slots: map[string]dialogue.SlotState{
			"urgency": {Name: "urgency", State: dialogue.ValueCandidate, Raw: "asap", Candidate: "high", RetryCount: 1},
		},
		PendingSlot: "urgency",
		CreatedAt:   base,
		UpdatedAt:   updated,
	}
	return sess
}

func runContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Load(ctx, "missing"); !errors.Is(err, dialogue.ErrSessionNotFound) {
		t.Fatalf("Load(missing) error = %v, want ErrSessionNotFound", err)
	}

	sess := sampleSession("s1", base)
	if err := s.Save(ctx, sess); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := s.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Active == nil || got.Active.Slots["urgency"].Candidate != "high" {
		t.Fatalf("Load() active = %+v", got.Active)
	}
	if len(got.Queue) != 1 || got.Queue[0] != "request_time_off" {
		t.Fatalf("Load() queue = %v", got.Queue)
	}
	if got.LastTurnID != "turn-2" {
		t.Fatalf("Load() last turn = %q", got.LastTurnID)
	}

	sess.Queue = []string{}
	sess.Active = nil
	sess.UpdatedAt = base.Add(time.Minute)
	if err := s.Save(ctx, sess); err != nil {
		t.Fatalf("Save() overwrite error = %v", err)
	}
	got, err = s.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Active != nil || len(got.Queue) != 0 {
		t.Fatalf("overwrite not applied: %+v", got)
	}

	for i, content := range []string{"I need time off", "What is your name?", "Priya"} {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if err := s.AppendMessage(ctx, Message{
			SessionID: "s1",
			Role:      role,
			Content:   content,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}
	msgs, err := s.Messages(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "What is your name?" || msgs[1].Content != "Priya" {
		t.Fatalf("Messages() = %+v", msgs)
	}
	if msgs[0].Role != RoleAssistant || msgs[0].ID == "" {
		t.Fatalf("Messages()[0] = %+v", msgs[0])
	}

	if err := s.RecordAction(ctx, ActionExecution{
		TaskID:    "task-1",
		SessionID: "s1",
		Intent:    "submit_it_ticket",
		Action:    "create_ticket",
		Notifier:  "log",
		Status:    ActionSent,
		Payload:   `{"urgency":"high"}`,
	}); err != nil {
		t.Fatalf("RecordAction() error = %v", err)
	}
	actions, err := s.Actions(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("Actions() error = %v", err)
	}
	if len(actions) != 1 || actions[0].Status != ActionSent || actions[0].TaskID != "task-1" {
		t.Fatalf("Actions() = %+v", actions)
	}
	if err := s.RecordAction(ctx, ActionExecution{
		TaskID:    "task-2",
		SessionID: "s1",
		Intent:    "submit_it_ticket",
		Action:    "create_ticket",
		Notifier:  "log",
		Status:    ActionFailed,
		Error:     "channel not found",
	}); err != nil {
		t.Fatalf("RecordAction(failed) error = %v", err)
	}
	sent, ok, err := s.SentAction(ctx, "task-1")
	if err != nil || !ok || sent.Status != ActionSent || sent.TaskID != "task-1" || sent.Notifier != "log" {
		t.Fatalf("SentAction(task-1) = %+v, %v, %v", sent, ok, err)
	}
	if _, ok, err := s.SentAction(ctx, "task-2"); err != nil || ok {
		t.Fatalf("SentAction(task-2) found a failed delivery: ok=%v err=%v", ok, err)
	}

	if err := s.Save(ctx, sampleSession("s2", base.Add(time.Hour))); err != nil {
		t.Fatalf("Save(s2) error = %v", err)
	}
	n, err := s.ExpireIdle(ctx, base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("ExpireIdle() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("ExpireIdle() = %d, want 1", n)
	}
	if _, err := s.Load(ctx, "s1"); !errors.Is(err, dialogue.ErrSessionNotFound) {
		t.Fatalf("expired session still loads: %v", err)
	}
	if msgs, _ := s.Messages(ctx, "s1", 0); len(msgs) != 0 {
		t.Fatalf("expired transcript kept: %+v", msgs)
	}
	if _, err := s.Load(ctx, "s2"); err != nil {
		t.Fatalf("recent session expired: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	runContract(t, NewMemoryStore())
}

func TestMemoryStoreIsolatesCallers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	sess := sampleSession("s1", base)
	if err := s.Save(ctx, sess); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	sess.Queue[0] = "mutated"
	got, _ := s.Load(ctx, "s1")
	got.Active.Status = dialogue.StatusFailed
	again, _ := s.Load(ctx, "s1")
	if again.Queue[0] != "request_time_off" || again.Active.Status != dialogue.StatusAwaitingConfirmation {
		t.Fatalf("store shares state with callers: %+v", again)
	}
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewStore(context.Background(), "sqlite:"+filepath.Join(t.TempDir(), "hrdesk.db"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Fatalf("NewStore() = %T, want *SQLiteStore", s)
	}
	runContract(t, s)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, url)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	defer s.Close()
	if _, err := s.pool.Exec(ctx, `TRUNCATE conversations, messages, action_executions`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	runContract(t, s)
}

func TestNewStoreDefaultsToMemory(t *testing.T) {
	s, err := NewStore(context.Background(), " ")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Fatalf("NewStore() = %T, want *MemoryStore", s)
	}
}
