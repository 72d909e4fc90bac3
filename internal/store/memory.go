package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/hrdesk/internal/dialogue"
)

// MemoryStore keeps everything in process. Sessions are cloned on the way
// in and out so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*dialogue.Session
	messages map[string][]Message
	actions  map[string][]ActionExecution
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*dialogue.Session),
		messages: make(map[string][]Message),
		actions:  make(map[string][]ActionExecution),
	}
}

func (s *MemoryStore) Load(_ context.Context, sessionID string) (*dialogue.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, dialogue.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, sess *dialogue.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], msg)
	return nil
}

func (s *MemoryStore) Messages(_ context.Context, sessionID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lastN(s.messages[sessionID], listLimit(limit)), nil
}

func (s *MemoryStore) RecordAction(_ context.Context, exec ActionExecution) error {
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[exec.SessionID] = append(s.actions[exec.SessionID], exec)
	return nil
}

func (s *MemoryStore) Actions(_ context.Context, sessionID string, limit int) ([]ActionExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lastN(s.actions[sessionID], listLimit(limit)), nil
}

func (s *MemoryStore) SentAction(_ context.Context, taskID string) (ActionExecution, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, log := range s.actions {
		for i := len(log) - 1; i >= 0; i-- {
			if log[i].TaskID == taskID && log[i].Status == ActionSent {
				return log[i], true, nil
			}
		}
	}
	return ActionExecution{}, false, nil
}

func (s *MemoryStore) ExpireIdle(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if !sess.UpdatedAt.Before(before) {
			continue
		}
		delete(s.sessions, id)
		delete(s.messages, id)
		delete(s.actions, id)
		n++
	}
	return n, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// lastN returns a copy of the newest limit items in insertion order.
func lastN[T any](items []T, limit int) []T {
	if len(items) == 0 {
		return nil
	}
	if limit > len(items) {
		limit = len(items)
	}
	out := make([]T, limit)
	copy(out, items[len(items)-limit:])
	return out
}
