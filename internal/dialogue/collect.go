package dialogue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/hrdesk/internal/logging"
	"github.com/ent0n29/hrdesk/internal/observability"
	"github.com/ent0n29/hrdesk/internal/schema"
)

type turnInfo struct {
	sessionID string
	userID    string
	turn      int
}

// Collector runs slot collection for a single task instance. It mutates the
// task it is given and never touches the session around it.
type Collector struct {
	selector   Selector
	extractor  Extractor
	normalizer Normalizer
	executor   Executor
	log        logging.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// Advance consumes one collecting-state utterance: selected slots are
// extracted and resolved, failures go through the retry policy, then the
// task moves on to a confirmation, execution or the next prompt.
func (c *Collector) Advance(ctx context.Context, def schema.Task, task *TaskInstance, tc turnInfo, utterance string) []Directive {
	var out []Directive
	failed := ""

	open := openSlots(def, task)
	if len(open) > 0 {
		selected := c.selectSlots(ctx, utterance, open, task.Asked)
		if len(selected) == 0 {
			// Only an utterance given in reply to a prompt counts against the
			// slot; the turn that created the task never does.
			if next, ok := nextToAsk(def, task); ok && task.Slots[next.Name].LastAskedTurn > 0 {
				c.metrics.ObserveSlotAttempt("unanswered")
				out = append(out, c.failAttempt(def, task, next, &failed)...)
			}
		}
		for _, slot := range selected {
			if task.Status.Terminal() {
				break
			}
			out = append(out, c.fill(ctx, def, task, slot, utterance, &failed)...)
		}
	}
	if task.Status.Terminal() {
		return out
	}
	return append(out, c.followUp(ctx, def, task, tc, failed)...)
}

func (c *Collector) fill(ctx context.Context, def schema.Task, task *TaskInstance, slot schema.Slot, utterance string, failed *string) []Directive {
	raw, ok := c.extract(ctx, utterance, slot)
	if !ok {
		c.metrics.ObserveSlotAttempt("not_extracted")
		return c.failAttempt(def, task, slot, failed)
	}

	start := c.now()
	res := Resolve(ctx, c.normalizer, slot, raw)
	c.metrics.ObserveStage("normalize", c.now().Sub(start))

	st := task.Slots[slot.Name]
	switch res.Kind {
	case ResolutionConfirmed:
		st.State = ValueConfirmed
		st.Value = res.Value
		st.Raw = raw
		st.Candidate = ""
		st.Source = SourceUser
		task.Slots[slot.Name] = st
		c.metrics.ObserveSlotAttempt("filled")
		return nil
	case ResolutionAmbiguous:
		st.State = ValueCandidate
		st.Raw = raw
		st.Candidate = res.Value
		task.Slots[slot.Name] = st
		c.metrics.ObserveSlotAttempt("ambiguous")
		return nil
	default:
		if res.Err != nil {
			c.log.Debug("slot value rejected", "task_id", task.ID, "slot", slot.Name, "error", res.Err)
		}
		c.metrics.ObserveSlotAttempt("rejected")
		return c.failAttempt(def, task, slot, failed)
	}
}

// failAttempt counts one failed attempt on slot and applies the retry policy.
// The first slot left for retry is reported through failed so the follow-up
// prompt re-asks it.
func (c *Collector) failAttempt(def schema.Task, task *TaskInstance, slot schema.Slot, failed *string) []Directive {
	st := task.Slots[slot.Name]
	if st.RetryCount < slot.MaxRetries {
		st.RetryCount++
	}
	st.State = ValueUnset
	st.Candidate = ""
	st.Raw = ""

	switch Decide(st.RetryCount, slot.MaxRetries, slot.HasFallback()) {
	case DecisionRetry:
		task.Slots[slot.Name] = st
		if *failed == "" && slot.Required {
			*failed = slot.Name
		}
		return nil
	case DecisionFallback:
		st.State = ValueConfirmed
		st.Value = slot.Default
		st.Source = SourceFallback
		task.Slots[slot.Name] = st
		c.metrics.ObserveSlotAttempt("fallback")
		c.log.Info("slot fallback applied", "task_id", task.ID, "slot", slot.Name, "retries", st.RetryCount)
		return []Directive{fallbackDirective(def.Intent, slot)}
	default:
		task.Slots[slot.Name] = st
		if !slot.Required {
			// An optional slot without a default is simply left empty.
			c.metrics.ObserveSlotAttempt("skipped")
			return nil
		}
		task.Reason = fmt.Sprintf("retries exhausted for slot %s", slot.Name)
		c.setStatus(task, StatusFailed)
		c.metrics.ObserveSlotAttempt("abort")
		c.log.Info("task aborted", "task_id", task.ID, "slot", slot.Name, "retries", st.RetryCount)
		return []Directive{abortDirective(def.Intent, slot)}
	}
}

// followUp decides what the task needs next. Pending candidates are
// confirmed first; preferred names a slot that just failed and is re-asked
// once no candidate is waiting.
func (c *Collector) followUp(ctx context.Context, def schema.Task, task *TaskInstance, tc turnInfo, preferred string) []Directive {
	if preferred != "" {
		task.RetrySlot = preferred
	}
	if name := firstCandidate(def, task); name != "" {
		c.setStatus(task, StatusAwaitingConfirmation)
		task.PendingSlot = name
		return []Directive{confirmDirective(def.Intent, task.Slots[name], false)}
	}
	if retry := task.RetrySlot; retry != "" {
		task.RetrySlot = ""
		if slot, ok := def.Slot(retry); ok && task.Slots[retry].State == ValueUnset {
			return []Directive{c.ask(def, task, slot, tc, true)}
		}
	}
	next, ok := nextToAsk(def, task)
	if !ok {
		return c.execute(ctx, def, task, tc)
	}
	return []Directive{c.ask(def, task, next, tc, task.Slots[next.Name].RetryCount > 0)}
}

func (c *Collector) ask(def schema.Task, task *TaskInstance, slot schema.Slot, tc turnInfo, retry bool) Directive {
	st := task.Slots[slot.Name]
	st.LastAskedTurn = tc.turn
	task.Slots[slot.Name] = st
	task.Asked = slot.Name
	return askDirective(def.Intent, slot, retry)
}

func (c *Collector) execute(ctx context.Context, def schema.Task, task *TaskInstance, tc turnInfo) []Directive {
	c.setStatus(task, StatusExecuting)
	if task.Executed {
		// Executed is persisted; an action is never dispatched twice.
		c.log.Warn("task already executed", "task_id", task.ID)
		task.Reason = "action already dispatched"
		c.setStatus(task, StatusFailed)
		return []Directive{failedDirective(def.Intent, task.Reason)}
	}
	task.Executed = true

	req := ExecuteRequest{
		TaskID:    task.ID,
		SessionID: tc.sessionID,
		UserID:    tc.userID,
		Intent:    def.Intent,
		Action:    def.Completion.Action,
		Slots:     make(map[string]SlotValue, len(task.Slots)),
		Fields:    def.PayloadFields(),
	}
	for _, slot := range def.Slots {
		st := task.Slots[slot.Name]
		if st.Confirmed() {
			req.Slots[slot.Name] = SlotValue{Value: st.Value, Source: st.Source}
		}
	}

	start := c.now()
	res, err := c.executor.Execute(ctx, req)
	c.metrics.ObserveStage("execute", c.now().Sub(start))
	switch {
	case err != nil:
		c.metrics.ObserveCollaboratorError("executor")
		c.log.Error("task execution failed", "task_id", task.ID, "action", req.Action, "error", err)
		task.Reason = err.Error()
	case !res.Success:
		task.Reason = strings.TrimSpace(res.Reason)
		if task.Reason == "" {
			task.Reason = fmt.Sprintf("the %s action did not succeed", req.Action)
		}
	default:
		task.Result = res.Summary
		c.setStatus(task, StatusCompleted)
		c.log.Info("task completed", "task_id", task.ID, "intent", def.Intent, "action", req.Action)
		return []Directive{completedDirective(def.Intent, res.Summary)}
	}
	c.setStatus(task, StatusFailed)
	return []Directive{failedDirective(def.Intent, task.Reason)}
}

func (c *Collector) selectSlots(ctx context.Context, utterance string, open []schema.Slot, asked string) []schema.Slot {
	start := c.now()
	names, err := c.selector.Select(ctx, SelectRequest{Utterance: utterance, Open: open, Asked: asked})
	c.metrics.ObserveStage("select", c.now().Sub(start))
	if err != nil {
		c.metrics.ObserveCollaboratorError("selector")
		c.log.Warn("slot selection failed", "error", err)
		return nil
	}

	// Keep declared order and drop names that are not open.
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	out := make([]schema.Slot, 0, len(names))
	for _, slot := range open {
		if want[slot.Name] {
			out = append(out, slot)
		}
	}
	return out
}

func (c *Collector) extract(ctx context.Context, utterance string, slot schema.Slot) (string, bool) {
	start := c.now()
	raw, ok, err := c.extractor.Extract(ctx, utterance, slot)
	c.metrics.ObserveStage("extract", c.now().Sub(start))
	if err != nil {
		c.metrics.ObserveCollaboratorError("extractor")
		c.log.Warn("slot extraction failed", "slot", slot.Name, "error", err)
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, ok && raw != ""
}

func (c *Collector) setStatus(task *TaskInstance, to TaskStatus) {
	from := task.Status
	if err := task.transition(to, c.now()); err != nil {
		c.log.Error("task transition rejected", "task_id", task.ID, "error", err)
		return
	}
	if from != to {
		c.metrics.ObserveTaskTransition(string(to))
	}
}

// openSlots lists every slot without a value, in declared order.
func openSlots(def schema.Task, task *TaskInstance) []schema.Slot {
	out := make([]schema.Slot, 0, len(def.Slots))
	for _, slot := range def.Slots {
		if task.Slots[slot.Name].State == ValueUnset {
			out = append(out, slot)
		}
	}
	return out
}

// nextToAsk is the first required slot without a value.
func nextToAsk(def schema.Task, task *TaskInstance) (schema.Slot, bool) {
	for _, slot := range def.Slots {
		if slot.Required && task.Slots[slot.Name].State == ValueUnset {
			return slot, true
		}
	}
	return schema.Slot{}, false
}

// firstCandidate returns the first slot, in declared order, holding a value
// that still needs confirmation.
func firstCandidate(def schema.Task, task *TaskInstance) string {
	for _, slot := range def.Slots {
		if task.Slots[slot.Name].State == ValueCandidate {
			return slot.Name
		}
	}
	return ""
}
