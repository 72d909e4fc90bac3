// Package taskruntime fronts the dialogue engine for every transport. It
// cleans user input, keeps the redacted transcript and fans turn events
// out to subscribers.
package taskruntime

import (
	"context"
	"errors"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/ent0n29/hrdesk/internal/dialogue"
	"github.com/ent0n29/hrdesk/internal/logging"
	"github.com/ent0n29/hrdesk/internal/observability"
	"github.com/ent0n29/hrdesk/internal/policy"
	"github.com/ent0n29/hrdesk/internal/schema"
	"github.com/ent0n29/hrdesk/internal/store"
)

const maxUtteranceRunes = 2000

type EventType string

const (
	EventTurn    EventType = "turn"
	EventFlushed EventType = "flushed"
)

// Event is published to session subscribers after every turn or flush.
type Event struct {
	Type      EventType           `json:"type"`
	SessionID string              `json:"session_id"`
	Result    dialogue.TurnResult `json:"result"`
	CreatedAt time.Time           `json:"created_at"`
}

// DirectiveRewriter rephrases outgoing directives. llm.Rewriter satisfies it.
type DirectiveRewriter interface {
	Rewrite(ctx context.Context, directives []dialogue.Directive) []dialogue.Directive
}

type Options struct {
	Rewriter DirectiveRewriter
	Logger   logging.Logger
	Metrics  *observability.Metrics
	Clock    func() time.Time
}

type Service struct {
	engine    *dialogue.Engine
	store     store.Store
	rewriter  DirectiveRewriter
	sanitizer *bluemonday.Policy
	log       logging.Logger
	metrics   *observability.Metrics
	now       func() time.Time

	mu          sync.Mutex
	subscribers map[string]map[int]chan Event
	nextSubID   int
}

func New(engine *dialogue.Engine, st store.Store, opts Options) (*Service, error) {
	if engine == nil {
		return nil, errors.New("taskruntime: engine is required")
	}
	if st == nil {
		return nil, errors.New("taskruntime: store is required")
	}
	now := opts.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		engine:      engine,
		store:       st,
		rewriter:    opts.Rewriter,
		sanitizer:   bluemonday.StrictPolicy(),
		log:         logging.OrNop(opts.Logger).With("component", "taskruntime"),
		metrics:     opts.Metrics,
		now:         now,
		subscribers: make(map[string]map[int]chan Event),
	}, nil
}

func (s *Service) Registry() *schema.Registry { return s.engine.Registry() }

// CreateSession saves an empty session under a fresh id.
func (s *Service) CreateSession(ctx context.Context, userID string) (*dialogue.Session, error) {
	sess := dialogue.NewSession(uuid.NewString(), strings.TrimSpace(userID), s.now())
	if err := s.store.Save(ctx, sess); err != nil {
		s.metrics.ObserveStorageFailure()
		return nil, errors.Join(dialogue.ErrStorageFailure, err)
	}
	s.log.Info("session created", "session_id", sess.ID, "user_id", sess.UserID)
	return sess, nil
}

// Turn runs one utterance. On a storage failure the result still carries
// the directives to show the user, alongside the error.
func (s *Service) Turn(ctx context.Context, req dialogue.TurnRequest) (dialogue.TurnResult, error) {
	req.Utterance = s.Sanitize(req.Utterance)
	if req.Utterance == "" {
		return dialogue.TurnResult{}, dialogue.ErrEmptyUtterance
	}

	res, err := s.engine.ProcessTurn(ctx, req)
	if err != nil && !errors.Is(err, dialogue.ErrStorageFailure) {
		return dialogue.TurnResult{}, err
	}
	if res.Replayed {
		return res, nil
	}

	if s.rewriter != nil {
		start := s.now()
		res.Directives = s.rewriter.Rewrite(ctx, res.Directives)
		s.metrics.ObserveStage("rewrite", s.now().Sub(start))
	}
	s.recordTranscript(ctx, req, res)
	s.publish(res.SessionID, Event{Type: EventTurn, SessionID: res.SessionID, Result: res, CreatedAt: s.now()})
	return res, err
}

// Sanitize strips markup and control characters and bounds the length.
func (s *Service) Sanitize(in string) string {
	out := html.UnescapeString(s.sanitizer.Sanitize(in))
	out = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, out)
	out = strings.Join(strings.Fields(out), " ")
	if runes := []rune(out); len(runes) > maxUtteranceRunes {
		out = string(runes[:maxUtteranceRunes])
	}
	return out
}

func (s *Service) Session(ctx context.Context, sessionID string) (*dialogue.Session, error) {
	return s.engine.Session(ctx, sessionID)
}

// Messages returns the newest transcript lines of a session, oldest first.
func (s *Service) Messages(ctx context.Context, sessionID string, limit int) ([]store.Message, error) {
	if _, err := s.engine.Session(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.Messages(ctx, sessionID, limit)
}

func (s *Service) Actions(ctx context.Context, sessionID string, limit int) ([]store.ActionExecution, error) {
	if _, err := s.engine.Session(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.Actions(ctx, sessionID, limit)
}

// Flush retries a failed session save. It reports whether anything was
// pending.
func (s *Service) Flush(ctx context.Context, sessionID string) (bool, error) {
	if !s.engine.Pending(sessionID) {
		return false, nil
	}
	if err := s.engine.Flush(ctx, sessionID); err != nil {
		return true, err
	}
	sess, err := s.engine.Session(ctx, sessionID)
	if err == nil {
		s.publish(sessionID, Event{
			Type:      EventFlushed,
			SessionID: sessionID,
			Result: dialogue.TurnResult{
				SessionID: sessionID,
				TurnID:    sess.LastTurnID,
				Status:    sess.Status(),
				Persisted: true,
			},
			CreatedAt: s.now(),
		})
	}
	s.log.Info("pending session flushed", "session_id", sessionID)
	return true, nil
}

// Pending reports whether the session has a snapshot awaiting Flush.
func (s *Service) Pending(sessionID string) bool { return s.engine.Pending(sessionID) }

func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

func (s *Service) Subscribe(sessionID string) (<-chan Event, func()) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan Event, 256)
	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	if _, ok := s.subscribers[sessionID]; !ok {
		s.subscribers[sessionID] = make(map[int]chan Event)
	}
	s.subscribers[sessionID][id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.subscribers[sessionID]
		if subs == nil {
			return
		}
		if c, ok := subs[id]; ok {
			delete(subs, id)
			close(c)
		}
		if len(subs) == 0 {
			delete(s.subscribers, sessionID)
		}
	}
}

func (s *Service) publish(sessionID string, evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers[sessionID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (s *Service) recordTranscript(ctx context.Context, req dialogue.TurnRequest, res dialogue.TurnResult) {
	user := policy.RedactPII(req.Utterance)
	lines := []store.Message{{
		SessionID:   res.SessionID,
		UserID:      req.UserID,
		TurnID:      req.TurnID,
		Role:        store.RoleUser,
		Content:     user.Text,
		PIIRedacted: user.Changed(),
		CreatedAt:   s.now(),
	}}
	if reply := joinDirectives(res.Directives); reply != "" {
		assistant := policy.RedactPII(reply)
		lines = append(lines, store.Message{
			SessionID:   res.SessionID,
			UserID:      req.UserID,
			TurnID:      req.TurnID,
			Role:        store.RoleAssistant,
			Content:     assistant.Text,
			PIIRedacted: assistant.Changed(),
			CreatedAt:   s.now(),
		})
	}
	for _, msg := range lines {
		if err := s.store.AppendMessage(ctx, msg); err != nil {
			s.log.Warn("transcript append failed", "session_id", msg.SessionID, "role", msg.Role, "error", err)
			return
		}
	}
}

func joinDirectives(directives []dialogue.Directive) string {
	parts := make([]string, 0, len(directives))
	for _, d := range directives {
		if text := strings.TrimSpace(d.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}
