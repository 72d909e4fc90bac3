// Package actions turns completed tasks into outbound messages.
package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ent0n29/hrdesk/internal/dialogue"
	"github.com/ent0n29/hrdesk/internal/logging"
	"github.com/ent0n29/hrdesk/internal/observability"
	"github.com/ent0n29/hrdesk/internal/store"
)

// Recorder keeps the action execution log.
type Recorder interface {
	RecordAction(ctx context.Context, exec store.ActionExecution) error
	SentAction(ctx context.Context, taskID string) (store.ActionExecution, bool, error)
}

// maxRemembered caps the in-process result cache. Older entries are still
// found through the recorder.
const maxRemembered = 1024

// Router is the dialogue executor: it composes a message for the task and
// hands it to the notifier. A task id that was already delivered, in this
// process or according to the action log, is never sent again.
type Router struct {
	composer Composer
	notifier Notifier
	recorder Recorder
	log      logging.Logger
	metrics  *observability.Metrics

	mu    sync.Mutex
	done  map[string]dialogue.ExecuteResult
	order []string
}

type RouterOptions struct {
	Composer Composer
	Notifier Notifier
	Recorder Recorder
	Logger   logging.Logger
	Metrics  *observability.Metrics
}

func NewRouter(opts RouterOptions) (*Router, error) {
	if opts.Composer == nil {
		return nil, fmt.Errorf("actions router requires a composer")
	}
	if opts.Notifier == nil {
		return nil, fmt.Errorf("actions router requires a notifier")
	}
	return &Router{
		composer: opts.Composer,
		notifier: opts.Notifier,
		recorder: opts.Recorder,
		log:      logging.OrNop(opts.Logger),
		metrics:  opts.Metrics,
		done:     make(map[string]dialogue.ExecuteResult),
	}, nil
}

func (r *Router) Execute(ctx context.Context, req dialogue.ExecuteRequest) (dialogue.ExecuteResult, error) {
	if prev, ok := r.delivered(ctx, req.TaskID); ok {
		r.log.Info("action already delivered", "task_id", req.TaskID)
		return prev, nil
	}

	text, err := r.composer.Compose(ctx, req)
	if err != nil {
		return dialogue.ExecuteResult{}, fmt.Errorf("compose %s message: %w", req.Action, err)
	}
	n := Notification{
		TaskID:    req.TaskID,
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Intent:    req.Intent,
		Action:    req.Action,
		Text:      text,
		Slots:     req.Slots,
	}
	sendErr := r.notifier.Notify(ctx, n)
	r.metrics.ObserveActionDelivery(r.notifier.Name(), sendErr)
	r.record(ctx, n, sendErr)

	if sendErr != nil {
		r.log.Warn("action delivery failed", "task_id", req.TaskID, "notifier", r.notifier.Name(), "error", sendErr)
		return dialogue.ExecuteResult{
			Success: false,
			Reason:  fmt.Sprintf("Sorry, I couldn't submit your %s request: %v", strings.ReplaceAll(req.Intent, "_", " "), sendErr),
		}, nil
	}

	res := dialogue.ExecuteResult{Success: true, Summary: Summary(req.Action)}
	r.remember(req.TaskID, res)
	return res, nil
}

func (r *Router) delivered(ctx context.Context, taskID string) (dialogue.ExecuteResult, bool) {
	r.mu.Lock()
	prev, ok := r.done[taskID]
	r.mu.Unlock()
	if ok || r.recorder == nil {
		return prev, ok
	}
	exec, found, err := r.recorder.SentAction(ctx, taskID)
	if err != nil {
		r.log.Warn("action log lookup failed", "task_id", taskID, "error", err)
		return dialogue.ExecuteResult{}, false
	}
	if !found {
		return dialogue.ExecuteResult{}, false
	}
	res := dialogue.ExecuteResult{Success: true, Summary: Summary(exec.Action)}
	r.remember(taskID, res)
	return res, true
}

func (r *Router) remember(taskID string, res dialogue.ExecuteResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.done[taskID]; ok {
		return
	}
	if len(r.order) >= maxRemembered {
		delete(r.done, r.order[0])
		r.order = r.order[1:]
	}
	r.done[taskID] = res
	r.order = append(r.order, taskID)
}

func (r *Router) record(ctx context.Context, n Notification, sendErr error) {
	if r.recorder == nil {
		return
	}
	payload, err := json.Marshal(n.Slots)
	if err != nil {
		payload = []byte("{}")
	}
	exec := store.ActionExecution{
		TaskID:    n.TaskID,
		SessionID: n.SessionID,
		Intent:    n.Intent,
		Action:    n.Action,
		Notifier:  r.notifier.Name(),
		Status:    store.ActionSent,
		Payload:   string(payload),
		Message:   n.Text,
	}
	if sendErr != nil {
		exec.Status = store.ActionFailed
		exec.Error = sendErr.Error()
	}
	if err := r.recorder.RecordAction(ctx, exec); err != nil {
		r.log.Warn("record action failed", "task_id", n.TaskID, "error", err)
	}
}
