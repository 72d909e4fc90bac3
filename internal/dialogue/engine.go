package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/hrdesk/internal/logging"
	"github.com/ent0n29/hrdesk/internal/observability"
	"github.com/ent0n29/hrdesk/internal/policy"
	"github.com/ent0n29/hrdesk/internal/schema"
)

// Options wires the engine's collaborators. Responder, Logger, Metrics,
// Clock and NewID are optional.
type Options struct {
	Registry   *schema.Registry
	Classifier Classifier
	Selector   Selector
	Extractor  Extractor
	Normalizer Normalizer
	Executor   Executor
	Responder  Responder
	Store      Store
	Logger     logging.Logger
	Metrics    *observability.Metrics
	Clock      func() time.Time
	NewID      func() string
}

// Engine is the single writer of session state. Turns for one session are
// serialized; turns for different sessions run in parallel.
type Engine struct {
	registry   *schema.Registry
	classifier Classifier
	responder  Responder
	store      Store
	collector  *Collector
	log        logging.Logger
	metrics    *observability.Metrics
	now        func() time.Time
	newID      func() string

	locks sessionLocks

	pendingMu sync.Mutex
	pending   map[string]*Session
}

func NewEngine(opts Options) (*Engine, error) {
	switch {
	case opts.Registry == nil:
		return nil, errors.New("dialogue: registry is required")
	case opts.Classifier == nil:
		return nil, errors.New("dialogue: classifier is required")
	case opts.Selector == nil:
		return nil, errors.New("dialogue: selector is required")
	case opts.Extractor == nil:
		return nil, errors.New("dialogue: extractor is required")
	case opts.Normalizer == nil:
		return nil, errors.New("dialogue: normalizer is required")
	case opts.Executor == nil:
		return nil, errors.New("dialogue: executor is required")
	case opts.Store == nil:
		return nil, errors.New("dialogue: store is required")
	}
	log := logging.OrNop(opts.Logger).With("component", "dialogue")
	now := opts.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Engine{
		registry:   opts.Registry,
		classifier: opts.Classifier,
		responder:  opts.Responder,
		store:      opts.Store,
		collector: &Collector{
			selector:   opts.Selector,
			extractor:  opts.Extractor,
			normalizer: opts.Normalizer,
			executor:   opts.Executor,
			log:        log,
			metrics:    opts.Metrics,
			now:        now,
		},
		log:     log,
		metrics: opts.Metrics,
		now:     now,
		newID:   newID,
		locks:   sessionLocks{locks: make(map[string]*sessionLock)},
		pending: make(map[string]*Session),
	}, nil
}

func (e *Engine) Registry() *schema.Registry { return e.registry }

// ProcessTurn runs one user utterance against the session. When the session
// snapshot cannot be saved the directives are still returned, together with
// an error wrapping ErrStorageFailure, and later turns for the session are
// refused with ErrSessionNotPersisted until a save succeeds.
func (e *Engine) ProcessTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		return TurnResult{}, errors.New("session id is required")
	}
	utterance := strings.TrimSpace(req.Utterance)
	if utterance == "" {
		return TurnResult{}, ErrEmptyUtterance
	}
	start := e.now()

	unlock := e.locks.lock(sessionID)
	defer unlock()

	if err := e.flushLocked(ctx, sessionID); err != nil {
		e.metrics.ObserveTurn("blocked", 0)
		return TurnResult{}, fmt.Errorf("%w: %v", ErrSessionNotPersisted, err)
	}

	sess, err := e.loadLocked(ctx, sessionID, req.UserID)
	if err != nil {
		e.metrics.ObserveTurn("load_failed", 0)
		return TurnResult{}, err
	}

	if req.TurnID != "" && sess.LastTurnID == req.TurnID {
		e.log.Info("turn replayed", "session_id", sessionID, "turn_id", req.TurnID)
		e.metrics.ObserveTurn("replayed", 0)
		return TurnResult{
			SessionID:  sessionID,
			TurnID:     req.TurnID,
			Directives: append([]Directive(nil), sess.LastDirectives...),
			Status:     sess.Status(),
			Persisted:  true,
			Replayed:   true,
		}, nil
	}

	work := sess.Clone()
	if work.UserID == "" {
		work.UserID = strings.TrimSpace(req.UserID)
	}
	turn := work.TurnCount + 1
	directives := e.run(ctx, work, turnInfo{sessionID: sessionID, userID: work.UserID, turn: turn}, utterance)
	work.TurnCount = turn
	work.LastTurnID = req.TurnID
	work.LastDirectives = directives
	work.UpdatedAt = e.now()

	result := TurnResult{
		SessionID:  sessionID,
		TurnID:     req.TurnID,
		Directives: append([]Directive(nil), directives...),
		Status:     work.Status(),
		Persisted:  true,
	}

	saveStart := e.now()
	err = e.store.Save(ctx, work.Clone())
	e.metrics.ObserveStage("store_save", e.now().Sub(saveStart))
	if err != nil {
		e.setPending(work)
		e.metrics.ObserveStorageFailure()
		e.metrics.ObserveTurn("not_persisted", e.now().Sub(start))
		e.log.Error("session save failed", "session_id", sessionID, "turn", turn, "error", err)
		result.Persisted = false
		result.Directives = append(result.Directives, storageFailureDirective())
		return result, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	e.metrics.ObserveTurn("ok", e.now().Sub(start))
	return result, nil
}

// Flush retries persistence of a session whose last save failed. It is a
// no-op for sessions with nothing pending.
func (e *Engine) Flush(ctx context.Context, sessionID string) error {
	unlock := e.locks.lock(sessionID)
	defer unlock()
	if err := e.flushLocked(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return nil
}

// Pending reports whether sessionID has an unsaved snapshot.
func (e *Engine) Pending(sessionID string) bool {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	_, ok := e.pending[sessionID]
	return ok
}

// Session returns the latest known snapshot, preferring one that has not
// been saved yet.
func (e *Engine) Session(ctx context.Context, sessionID string) (*Session, error) {
	e.pendingMu.Lock()
	if sess, ok := e.pending[sessionID]; ok {
		e.pendingMu.Unlock()
		return sess.Clone(), nil
	}
	e.pendingMu.Unlock()

	sess, err := e.store.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return sess, nil
}

func (e *Engine) run(ctx context.Context, sess *Session, tc turnInfo, utterance string) []Directive {
	var out []Directive

	if sess.Active != nil && sess.Active.Status == StatusAwaitingConfirmation {
		if policy.IsCancellation(utterance) {
			out = e.cancelActive(sess)
		} else {
			def, ok := e.registry.Task(sess.Active.Intent)
			if !ok {
				return append(e.dropUnknownActive(sess), e.settle(ctx, sess, tc)...)
			}
			out = e.collector.Confirm(ctx, def, sess.Active, tc, utterance)
		}
		return append(out, e.settle(ctx, sess, tc)...)
	}

	activeIntent := ""
	if sess.Active != nil {
		activeIntent = sess.Active.Intent
	}
	intent := e.classify(ctx, utterance, activeIntent)

	if intent == schema.IntentCancel || policy.IsCancellation(utterance) {
		if sess.Active == nil {
			return []Directive{nothingToCancelDirective()}
		}
		out = e.cancelActive(sess)
		return append(out, e.settle(ctx, sess, tc)...)
	}

	if sess.Active == nil {
		if intent == schema.IntentNone {
			return []Directive{e.respond(ctx, sess, utterance)}
		}
		out = append(out, e.startTask(sess, intent, false))
	} else if intent != schema.IntentNone && intent != sess.Active.Intent {
		before := len(sess.Queue)
		sess.Queue = Enqueue(sess.Queue, sess.Active.Intent, intent)
		if len(sess.Queue) > before {
			e.log.Info("intent queued", "session_id", sess.ID, "intent", intent, "active", sess.Active.Intent)
			out = append(out, queuedDirective(intent, sess.Active.Intent))
		}
	}

	def, ok := e.registry.Task(sess.Active.Intent)
	if !ok {
		return append(e.dropUnknownActive(sess), e.settle(ctx, sess, tc)...)
	}
	out = append(out, e.collector.Advance(ctx, def, sess.Active, tc, utterance)...)
	return append(out, e.settle(ctx, sess, tc)...)
}

// settle archives a terminal active task and starts the next queued intent.
// The new task only receives its first prompt; the current utterance is
// never replayed against it.
func (e *Engine) settle(ctx context.Context, sess *Session, tc turnInfo) []Directive {
	var out []Directive
	for sess.Active != nil && sess.Active.Status.Terminal() {
		sess.archive(sess.Active)
		sess.Active = nil

		next, rest, ok := DequeueNext(sess.Queue)
		for ok && !e.registry.Has(next) {
			e.log.Warn("dropping unknown queued intent", "session_id", sess.ID, "intent", next)
			next, rest, ok = DequeueNext(rest)
		}
		sess.Queue = rest
		if !ok {
			break
		}
		out = append(out, e.startTask(sess, next, true))
		def, _ := e.registry.Task(next)
		out = append(out, e.collector.followUp(ctx, def, sess.Active, tc, "")...)
	}
	return out
}

func (e *Engine) startTask(sess *Session, intent string, resumed bool) Directive {
	def, _ := e.registry.Task(intent)
	now := e.now()
	task := &TaskInstance{
		ID:        e.newID(),
		Intent:    intent,
		Status:    StatusCollecting,
		Slots:     make(map[string]SlotState, len(def.Slots)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, slot := range def.Slots {
		task.Slots[slot.Name] = SlotState{Name: slot.Name, State: ValueUnset}
	}
	sess.Active = task
	sess.Queue = removeQueued(sess.Queue, intent)
	e.metrics.ObserveTaskStarted()
	e.log.Info("task started", "session_id", sess.ID, "task_id", task.ID, "intent", intent, "resumed", resumed)
	return startedDirective(intent, resumed)
}

func (e *Engine) cancelActive(sess *Session) []Directive {
	task := sess.Active
	task.Reason = "cancelled by user"
	e.collector.setStatus(task, StatusCancelled)
	e.log.Info("task cancelled", "session_id", sess.ID, "task_id", task.ID, "intent", task.Intent)
	return []Directive{cancelledDirective(task.Intent)}
}

// dropUnknownActive fails an active task whose definition disappeared from
// the registry, which happens when a session outlives a registry reload.
func (e *Engine) dropUnknownActive(sess *Session) []Directive {
	task := sess.Active
	task.Reason = fmt.Sprintf("%v: %s", ErrUnknownIntent, task.Intent)
	e.collector.setStatus(task, StatusFailed)
	e.log.Warn("active task has no definition", "session_id", sess.ID, "task_id", task.ID, "intent", task.Intent)
	return []Directive{failedDirective(task.Intent, task.Reason)}
}

func (e *Engine) classify(ctx context.Context, utterance, activeIntent string) string {
	start := e.now()
	intent, err := e.classifier.Classify(ctx, utterance, activeIntent)
	e.metrics.ObserveStage("classify", e.now().Sub(start))
	if err != nil {
		e.metrics.ObserveCollaboratorError("classifier")
		e.log.Warn("intent classification failed", "error", err)
		return schema.IntentNone
	}
	intent = strings.TrimSpace(intent)
	switch {
	case intent == "", intent == schema.IntentNone:
		return schema.IntentNone
	case intent == schema.IntentCancel, e.registry.Has(intent):
		return intent
	default:
		e.metrics.ObserveCollaboratorError("classifier")
		e.log.Warn("classifier returned unknown intent", "intent", intent)
		return schema.IntentNone
	}
}

func (e *Engine) respond(ctx context.Context, sess *Session, utterance string) Directive {
	if e.responder == nil {
		return chatDirective(Capabilities(e.registry))
	}
	sc := SessionContext{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		TurnCount: sess.TurnCount,
		Intents:   e.registry.Intents(),
		History:   append([]TaskSummary(nil), sess.History...),
	}
	start := e.now()
	text, err := e.responder.Respond(ctx, utterance, sc)
	e.metrics.ObserveStage("respond", e.now().Sub(start))
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil {
			e.metrics.ObserveCollaboratorError("responder")
			e.log.Warn("free-form response failed", "error", err)
		}
		return chatDirective(Capabilities(e.registry))
	}
	return chatDirective(strings.TrimSpace(text))
}

func (e *Engine) loadLocked(ctx context.Context, sessionID, userID string) (*Session, error) {
	sess, err := e.store.Load(ctx, sessionID)
	switch {
	case err == nil:
		return sess, nil
	case errors.Is(err, ErrSessionNotFound):
		return NewSession(sessionID, strings.TrimSpace(userID), e.now()), nil
	default:
		e.metrics.ObserveStorageFailure()
		e.log.Error("session load failed", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
}

func (e *Engine) flushLocked(ctx context.Context, sessionID string) error {
	e.pendingMu.Lock()
	sess, ok := e.pending[sessionID]
	e.pendingMu.Unlock()
	if !ok {
		return nil
	}
	if err := e.store.Save(ctx, sess.Clone()); err != nil {
		e.metrics.ObserveStorageFailure()
		e.log.Warn("pending session save failed", "session_id", sessionID, "error", err)
		return err
	}
	e.pendingMu.Lock()
	delete(e.pending, sessionID)
	e.pendingMu.Unlock()
	e.log.Info("pending session persisted", "session_id", sessionID)
	return nil
}

func (e *Engine) setPending(sess *Session) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	e.pending[sess.ID] = sess.Clone()
}

type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// lock acquires the per-session mutex. Entries are dropped once no turn
// holds or waits on them.
func (l *sessionLocks) lock(id string) func() {
	l.mu.Lock()
	sl, ok := l.locks[id]
	if !ok {
		sl = &sessionLock{}
		l.locks[id] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
	return func() {
		sl.mu.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
