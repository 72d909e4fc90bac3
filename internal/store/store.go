// Package store persists conversation snapshots together with the
// transcript and the action execution log. Postgres, SQLite and an
// in-process map share one contract.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ent0n29/hrdesk/internal/dialogue"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript line. Content is stored after PII redaction.
type Message struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id,omitempty"`
	TurnID      string    `json:"turn_id,omitempty"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

type ActionStatus string

const (
	ActionSent   ActionStatus = "sent"
	ActionFailed ActionStatus = "failed"
)

// ActionExecution is one attempt to deliver a completed task.
type ActionExecution struct {
	ID        string       `json:"id"`
	TaskID    string       `json:"task_id"`
	SessionID string       `json:"session_id"`
	Intent    string       `json:"intent"`
	Action    string       `json:"action"`
	Notifier  string       `json:"notifier"`
	Status    ActionStatus `json:"status"`
	Payload   string       `json:"payload"`
	Message   string       `json:"message,omitempty"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// Store is the full persistence surface. Load returns
// dialogue.ErrSessionNotFound for unknown sessions.
type Store interface {
	dialogue.Store
	AppendMessage(ctx context.Context, msg Message) error
	Messages(ctx context.Context, sessionID string, limit int) ([]Message, error)
	RecordAction(ctx context.Context, exec ActionExecution) error
	Actions(ctx context.Context, sessionID string, limit int) ([]ActionExecution, error)
	// SentAction returns the latest successful delivery recorded for taskID.
	SentAction(ctx context.Context, taskID string) (ActionExecution, bool, error)
	// ExpireIdle deletes sessions not saved since before, along with their
	// queued intents, transcript and action log.
	ExpireIdle(ctx context.Context, before time.Time) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

const defaultListLimit = 50

func listLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

func encodeSession(sess *dialogue.Session) ([]byte, error) {
	raw, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	return raw, nil
}

func decodeSession(raw []byte) (*dialogue.Session, error) {
	var sess dialogue.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if sess.Queue == nil {
		sess.Queue = []string{}
	}
	return &sess, nil
}
