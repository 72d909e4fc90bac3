package dialogue

import (
	"fmt"
	"time"
)

type TaskStatus string

const (
	StatusCollecting           TaskStatus = "collecting"
	StatusAwaitingConfirmation TaskStatus = "awaiting_confirmation"
	StatusExecuting            TaskStatus = "executing"
	StatusCompleted            TaskStatus = "completed"
	StatusCancelled            TaskStatus = "cancelled"
	StatusFailed               TaskStatus = "failed"
)

func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// transitions enumerates every legal task status change.
var transitions = map[TaskStatus][]TaskStatus{
	StatusCollecting:           {StatusAwaitingConfirmation, StatusExecuting, StatusCancelled, StatusFailed},
	StatusAwaitingConfirmation: {StatusCollecting, StatusCancelled, StatusFailed},
	StatusExecuting:            {StatusCompleted, StatusFailed},
}

// CanTransition reports whether from -> to is a legal task transition.
func CanTransition(from, to TaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type ValueState string

const (
	ValueUnset     ValueState = "unset"
	ValueCandidate ValueState = "candidate"
	ValueConfirmed ValueState = "confirmed"
)

// SlotSource records where a confirmed value came from.
type SlotSource string

const (
	SourceUser     SlotSource = "user"
	SourceFallback SlotSource = "fallback"
)

type SlotState struct {
	Name          string     `json:"name"`
	State         ValueState `json:"state"`
	Value         string     `json:"value,omitempty"`
	Raw           string     `json:"raw,omitempty"`
	Candidate     string     `json:"candidate,omitempty"`
	Source        SlotSource `json:"source,omitempty"`
	RetryCount    int        `json:"retry_count"`
	LastAskedTurn int        `json:"last_asked_turn,omitempty"`
}

func (s SlotState) Confirmed() bool { return s.State == ValueConfirmed }

type TaskInstance struct {
	ID          string               `json:"id"`
	Intent      string               `json:"intent"`
	Status      TaskStatus           `json:"status"`
	Slots       map[string]SlotState `json:"slots"`
	PendingSlot string               `json:"pending_slot,omitempty"`
	Asked       string               `json:"asked,omitempty"`
	RetrySlot   string               `json:"retry_slot,omitempty"`
	Executed    bool                 `json:"executed"`
	Reason      string               `json:"reason,omitempty"`
	Result      string               `json:"result,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
	EndedAt     *time.Time           `json:"ended_at,omitempty"`
}

func (t *TaskInstance) transition(to TaskStatus, now time.Time) error {
	if t.Status == to {
		return nil
	}
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	t.Status = to
	t.UpdatedAt = now
	if to.Terminal() {
		ended := now
		t.EndedAt = &ended
		t.PendingSlot = ""
	}
	return nil
}

func (t *TaskInstance) Clone() *TaskInstance {
	if t == nil {
		return nil
	}
	c := *t
	c.Slots = make(map[string]SlotState, len(t.Slots))
	for k, v := range t.Slots {
		c.Slots[k] = v
	}
	if t.EndedAt != nil {
		ended := *t.EndedAt
		c.EndedAt = &ended
	}
	return &c
}

// TaskSummary is the archived record of a terminal task instance.
type TaskSummary struct {
	ID      string            `json:"id"`
	Intent  string            `json:"intent"`
	Status  TaskStatus        `json:"status"`
	Reason  string            `json:"reason,omitempty"`
	Result  string            `json:"result,omitempty"`
	Values  map[string]string `json:"values,omitempty"`
	EndedAt time.Time         `json:"ended_at"`
}

const maxHistory = 20

type Session struct {
	ID             string        `json:"id"`
	UserID         string        `json:"user_id,omitempty"`
	Active         *TaskInstance `json:"active,omitempty"`
	Queue          []string      `json:"queue"`
	TurnCount      int           `json:"turn_count"`
	History        []TaskSummary `json:"history,omitempty"`
	LastTurnID     string        `json:"last_turn_id,omitempty"`
	LastDirectives []Directive   `json:"last_directives,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// NewSession returns an idle session.
func NewSession(id, userID string, now time.Time) *Session {
	return &Session{
		ID:        id,
		UserID:    userID,
		Queue:     []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone deep-copies the session so a turn can work on a private copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Active = s.Active.Clone()
	c.Queue = append([]string{}, s.Queue...)
	c.History = make([]TaskSummary, len(s.History))
	for i, h := range s.History {
		if h.Values != nil {
			values := make(map[string]string, len(h.Values))
			for k, v := range h.Values {
				values[k] = v
			}
			h.Values = values
		}
		c.History[i] = h
	}
	c.LastDirectives = append([]Directive(nil), s.LastDirectives...)
	return &c
}

// Status summarizes the session for callers.
func (s *Session) Status() SessionStatus {
	st := SessionStatus{
		SessionID: s.ID,
		Queue:     append([]string{}, s.Queue...),
		TurnCount: s.TurnCount,
	}
	if s.Active != nil {
		st.ActiveIntent = s.Active.Intent
		st.TaskStatus = s.Active.Status
		st.TaskID = s.Active.ID
	}
	return st
}

func (s *Session) archive(t *TaskInstance) {
	values := make(map[string]string)
	for name, slot := range t.Slots {
		if slot.Confirmed() {
			values[name] = slot.Value
		}
	}
	summary := TaskSummary{
		ID:     t.ID,
		Intent: t.Intent,
		Status: t.Status,
		Reason: t.Reason,
		Result: t.Result,
		Values: values,
	}
	if t.EndedAt != nil {
		summary.EndedAt = *t.EndedAt
	}
	s.History = append(s.History, summary)
	if len(s.History) > maxHistory {
		s.History = append([]TaskSummary(nil), s.History[len(s.History)-maxHistory:]...)
	}
}

// SessionStatus is the caller-facing view after a turn.
type SessionStatus struct {
	SessionID    string     `json:"session_id"`
	ActiveIntent string     `json:"active_intent,omitempty"`
	TaskID       string     `json:"task_id,omitempty"`
	TaskStatus   TaskStatus `json:"task_status,omitempty"`
	Queue        []string   `json:"queue"`
	TurnCount    int        `json:"turn_count"`
}

type DirectiveKind string

const (
	KindPrompt DirectiveKind = "prompt"
	KindNotice DirectiveKind = "notice"
	KindError  DirectiveKind = "error"
)

// Directive codes.
const (
	CodeAskSlot         = "ask_slot"
	CodeRetrySlot       = "retry_slot"
	CodeConfirmValue    = "confirm_value"
	CodeConfirmUnclear  = "confirm_unclear"
	CodeFallbackApplied = "fallback_applied"
	CodeTaskStarted     = "task_started"
	CodeIntentQueued    = "intent_queued"
	CodeTaskCompleted   = "task_completed"
	CodeTaskFailed      = "task_failed"
	CodeTaskAborted     = "task_aborted"
	CodeTaskCancelled   = "task_cancelled"
	CodeNothingToCancel = "nothing_to_cancel"
	CodeChat            = "chat"
	CodeStorageFailure  = "storage_failure"
)

// Directive is one instruction for the presentation layer.
type Directive struct {
	Kind   DirectiveKind `json:"kind"`
	Code   string        `json:"code"`
	Text   string        `json:"text"`
	Intent string        `json:"intent,omitempty"`
	Slot   string        `json:"slot,omitempty"`
	Value  string        `json:"value,omitempty"`
}

type TurnRequest struct {
	SessionID string
	UserID    string
	// TurnID makes a retried turn idempotent: a request whose TurnID matches
	// the last committed turn returns that turn's directives unchanged.
	TurnID    string
	Utterance string
}

type TurnResult struct {
	SessionID  string        `json:"session_id"`
	TurnID     string        `json:"turn_id,omitempty"`
	Directives []Directive   `json:"directives"`
	Status     SessionStatus `json:"session_status"`
	Persisted  bool          `json:"persisted"`
	Replayed   bool          `json:"replayed,omitempty"`
}
