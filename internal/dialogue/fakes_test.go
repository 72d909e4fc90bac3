package dialogue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ent0n29/hrdesk/internal/schema"
)

// script is a table-driven stand-in for the NLU collaborators, keyed by the
// exact utterance.
type script struct {
	mu sync.Mutex

	intents   map[string]string
	classErr  map[string]error
	selects   map[string][]string
	extracts  map[string]map[string]string
	normals   map[string]Normalized
	rejects   map[string]bool
	classifyN int
}

func newScript() *script {
	return &script{
		intents:  map[string]string{},
		classErr: map[string]error{},
		selects:  map[string][]string{},
		extracts: map[string]map[string]string{},
		normals:  map[string]Normalized{},
		rejects:  map[string]bool{},
	}
}

func (s *script) Classify(_ context.Context, utterance, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classifyN++
	if err := s.classErr[utterance]; err != nil {
		return "", err
	}
	if intent, ok := s.intents[utterance]; ok {
		return intent, nil
	}
	return schema.IntentNone, nil
}

func (s *script) classifyCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.classifyN
}

func (s *script) Select(_ context.Context, req SelectRequest) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.selects[req.Utterance]...), nil
}

func (s *script) Extract(_ context.Context, utterance string, slot schema.Slot) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.extracts[utterance][slot.Name]
	return raw, ok, nil
}

func (s *script) Normalize(_ context.Context, raw string, _ schema.Slot) (Normalized, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejects[raw] {
		return Normalized{}, fmt.Errorf("cannot use %q", raw)
	}
	if n, ok := s.normals[raw]; ok {
		return n, nil
	}
	return Normalized{Value: raw}, nil
}

type recordingExecutor struct {
	mu     sync.Mutex
	calls  []ExecuteRequest
	result ExecuteResult
	err    error
}

func (r *recordingExecutor) Execute(_ context.Context, req ExecuteRequest) (ExecuteResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, req)
	if r.err != nil {
		return ExecuteResult{}, r.err
	}
	return r.result, nil
}

func (r *recordingExecutor) Calls() []ExecuteRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ExecuteRequest(nil), r.calls...)
}

type staticResponder string

func (s staticResponder) Respond(context.Context, string, SessionContext) (string, error) {
	return string(s), nil
}

var errDiskFull = errors.New("disk full")

type memStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	failSave bool
	saves    int
}

func newMemStore() *memStore {
	return &memStore{sessions: map[string]*Session{}}
}

func (m *memStore) Load(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (m *memStore) Save(_ context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave {
		return errDiskFull
	}
	m.saves++
	m.sessions[sess.ID] = sess.Clone()
	return nil
}

func (m *memStore) setFail(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSave = v
}

func (m *memStore) get(t *testing.T, id string) *Session {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	require.True(t, ok, "session %s not stored", id)
	return sess.Clone()
}

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.New([]schema.Task{
		{
			Intent: "schedule_meeting",
			Slots: []schema.Slot{
				{Name: "date", Type: schema.TypeDate, Required: true, Prompt: "What day?"},
				{Name: "time", Type: schema.TypeTime, Required: true, Prompt: "What time?"},
				{Name: "participant", Type: schema.TypeParticipants, Required: true, Prompt: "Who is joining?"},
				{Name: "agenda", Type: schema.TypeText},
			},
			Completion: schema.Completion{Action: "post_meeting"},
		},
		{
			Intent: "submit_it_ticket",
			Slots: []schema.Slot{
				{Name: "issue_description", Type: schema.TypeText, Required: true, Prompt: "What's the issue?"},
				{Name: "urgency", Type: schema.TypeEnum, Required: true, Prompt: "How urgent is it?",
					Options: []string{"low", "medium", "high"}, Default: "medium", MaxRetries: 2},
			},
		},
		{
			Intent: "request_time_off",
			Slots: []schema.Slot{
				{Name: "start_date", Type: schema.TypeDate, Required: true, Prompt: "When does it start?"},
			},
		},
	}, 3)
	require.NoError(t, err)
	return reg
}

type harness struct {
	engine *Engine
	nlu    *script
	exec   *recordingExecutor
	store  *memStore
	ids    int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		nlu:   newScript(),
		exec:  &recordingExecutor{result: ExecuteResult{Success: true}},
		store: newMemStore(),
	}
	h.engine = h.build(t)
	return h
}

// build returns a fresh engine over the harness collaborators, as after a
// process restart.
func (h *harness) build(t *testing.T) *Engine {
	t.Helper()
	clock := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	e, err := NewEngine(Options{
		Registry:   testRegistry(t),
		Classifier: h.nlu,
		Selector:   h.nlu,
		Extractor:  h.nlu,
		Normalizer: h.nlu,
		Executor:   h.exec,
		Responder:  staticResponder("Happy to chat."),
		Store:      h.store,
		Clock:      func() time.Time { return clock },
		NewID: func() string {
			h.ids++
			return fmt.Sprintf("task-%d", h.ids)
		},
	})
	require.NoError(t, err)
	return e
}

func (h *harness) turn(t *testing.T, utterance string) TurnResult {
	t.Helper()
	res, err := h.engine.ProcessTurn(context.Background(), TurnRequest{SessionID: "s1", UserID: "u1", Utterance: utterance})
	require.NoError(t, err)
	return res
}

func codes(ds []Directive) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Code)
	}
	return out
}
