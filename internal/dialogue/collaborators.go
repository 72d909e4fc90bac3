package dialogue

import (
	"context"
	"errors"

	"github.com/ent0n29/hrdesk/internal/schema"
)

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrStorageFailure      = errors.New("session storage failure")
	ErrSessionNotPersisted = errors.New("session has unpersisted state")
	ErrInvalidTransition   = errors.New("invalid task transition")
	ErrEmptyUtterance      = errors.New("utterance is empty")
	ErrUnknownIntent       = errors.New("unknown intent")
)

// Classifier maps an utterance to a task intent, schema.IntentNone or
// schema.IntentCancel. activeIntent is empty when no task is active.
type Classifier interface {
	Classify(ctx context.Context, utterance, activeIntent string) (string, error)
}

// SelectRequest carries the open slots in declared order. Asked names the
// slot most recently prompted, empty on the turn that created the task.
type SelectRequest struct {
	Utterance string
	Open      []schema.Slot
	Asked     string
}

// Selector returns the subset of open slots an utterance plausibly answers.
type Selector interface {
	Select(ctx context.Context, req SelectRequest) ([]string, error)
}

// Extractor returns a verbatim span of the utterance for slot, or false.
type Extractor interface {
	Extract(ctx context.Context, utterance string, slot schema.Slot) (string, bool, error)
}

// Normalized is a canonical candidate for a raw slot value.
type Normalized struct {
	Value     string
	Ambiguous bool
}

// Normalizer canonicalizes raw values. It must be deterministic for a given
// input and returns an error when the value cannot be accepted for the slot.
type Normalizer interface {
	Normalize(ctx context.Context, raw string, slot schema.Slot) (Normalized, error)
}

// SlotValue is one confirmed slot in an execution payload.
type SlotValue struct {
	Value  string     `json:"value"`
	Source SlotSource `json:"source"`
}

type ExecuteRequest struct {
	// TaskID is stable across retries and serves as the idempotency key.
	TaskID    string               `json:"task_id"`
	SessionID string               `json:"session_id"`
	UserID    string               `json:"user_id,omitempty"`
	Intent    string               `json:"intent"`
	Action    string               `json:"action"`
	Slots     map[string]SlotValue `json:"slots"`
	Fields    []string             `json:"fields"`
}

type ExecuteResult struct {
	Success bool   `json:"success"`
	Summary string `json:"summary,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Executor performs the outbound action for a completed task.
type Executor interface {
	Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error)
}

// SessionContext is the read-only view handed to the free-form responder.
type SessionContext struct {
	SessionID string
	UserID    string
	TurnCount int
	Intents   []string
	History   []TaskSummary
}

// Responder produces free-form replies when no task is active.
type Responder interface {
	Respond(ctx context.Context, utterance string, sess SessionContext) (string, error)
}

// Store mirrors sessions. The engine is its only writer.
type Store interface {
	Load(ctx context.Context, sessionID string) (*Session, error)
	Save(ctx context.Context, sess *Session) error
}
