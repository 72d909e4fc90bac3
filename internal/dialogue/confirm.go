package dialogue

import (
	"context"
	"strings"

	"github.com/ent0n29/hrdesk/internal/policy"
	"github.com/ent0n29/hrdesk/internal/schema"
)

type ResolutionKind string

const (
	ResolutionConfirmed ResolutionKind = "confirmed"
	ResolutionAmbiguous ResolutionKind = "ambiguous"
	ResolutionRejected  ResolutionKind = "rejected"
)

type Resolution struct {
	Kind  ResolutionKind
	Value string
	Err   error
}

// Resolve decides whether raw can be committed to slot directly, needs a
// yes/no round trip, or is unusable.
func Resolve(ctx context.Context, n Normalizer, slot schema.Slot, raw string) Resolution {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Resolution{Kind: ResolutionRejected}
	}
	if !slot.Type.NeedsNormalization() || n == nil {
		return Resolution{Kind: ResolutionConfirmed, Value: raw}
	}
	norm, err := n.Normalize(ctx, raw, slot)
	if err != nil {
		return Resolution{Kind: ResolutionRejected, Err: err}
	}
	value := strings.TrimSpace(norm.Value)
	if value == "" {
		return Resolution{Kind: ResolutionRejected}
	}
	if norm.Ambiguous {
		return Resolution{Kind: ResolutionAmbiguous, Value: value}
	}
	return Resolution{Kind: ResolutionConfirmed, Value: value}
}

// Confirm interprets utterance strictly as the answer to the pending
// confirmation question. Slot selection does not run on this turn.
func (c *Collector) Confirm(ctx context.Context, def schema.Task, task *TaskInstance, tc turnInfo, utterance string) []Directive {
	name := task.PendingSlot
	slot, ok := def.Slot(name)
	st := task.Slots[name]
	if !ok || st.State != ValueCandidate {
		c.log.Warn("confirmation without candidate", "task_id", task.ID, "slot", name)
		task.PendingSlot = ""
		c.setStatus(task, StatusCollecting)
		return c.followUp(ctx, def, task, tc, "")
	}

	answer := policy.InterpretAnswer(utterance)
	switch answer {
	case policy.AnswerYes:
		st.State = ValueConfirmed
		st.Value = st.Candidate
		st.Candidate = ""
		st.Source = SourceUser
		task.Slots[name] = st
		task.PendingSlot = ""
		c.setStatus(task, StatusCollecting)
		c.metrics.ObserveSlotAttempt("confirmed")
		return c.followUp(ctx, def, task, tc, "")
	case policy.AnswerNo:
		task.PendingSlot = ""
		c.setStatus(task, StatusCollecting)
		c.metrics.ObserveSlotAttempt("rejected")
		failed := ""
		out := c.failAttempt(def, task, slot, &failed)
		if task.Status.Terminal() {
			return out
		}
		return append(out, c.followUp(ctx, def, task, tc, failed)...)
	default:
		return []Directive{confirmDirective(task.Intent, st, true)}
	}
}
