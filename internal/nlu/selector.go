package nlu

import (
	"context"

	"github.com/ent0n29/hrdesk/internal/dialogue"
	"github.com/ent0n29/hrdesk/internal/policy"
	"github.com/ent0n29/hrdesk/internal/schema"
)

// Selector picks the open slots an utterance plausibly answers:
//   - a slot whose cue appears, when the value after the cue has the slot's shape
//   - an enum slot whose option is mentioned
//   - the first open slot of a shaped type whose value appears without a cue,
//     preferring the slot that was just asked
//
// When nothing matches, the utterance is taken as an answer to the slot that
// was asked last.
type Selector struct{}

func NewSelector() *Selector { return &Selector{} }

func (s *Selector) Select(_ context.Context, req dialogue.SelectRequest) ([]string, error) {
	utterance := req.Utterance
	picked := make(map[string]bool, len(req.Open))
	claimed := make(map[schema.SlotType]bool)

	var asked *schema.Slot
	for i := range req.Open {
		if req.Open[i].Name == req.Asked {
			asked = &req.Open[i]
		}
	}

	for _, slot := range req.Open {
		if s.cued(utterance, slot) {
			picked[slot.Name] = true
			claimed[slot.Type] = true
		}
	}
	if asked != nil && !picked[asked.Name] && !claimed[asked.Type] {
		if re := typedSpan(asked.Type); re != nil && re.MatchString(utterance) {
			picked[asked.Name] = true
			claimed[asked.Type] = true
		}
	}
	for _, slot := range req.Open {
		if picked[slot.Name] {
			continue
		}
		switch {
		case slot.Type == schema.TypeEnum:
			if _, ok := optionSpan(utterance, slot.Options); ok {
				picked[slot.Name] = true
			}
		case typedSpan(slot.Type) != nil && !claimed[slot.Type]:
			if typedSpan(slot.Type).MatchString(utterance) {
				picked[slot.Name] = true
				claimed[slot.Type] = true
			}
		}
	}

	out := make([]string, 0, len(picked))
	for _, slot := range req.Open {
		if picked[slot.Name] {
			out = append(out, slot.Name)
		}
	}
	if len(out) == 0 && asked != nil && s.canAnswer(utterance, *asked) {
		out = append(out, asked.Name)
	}
	return out, nil
}

// cued reports a cue for slot followed by a value of the right shape.
func (s *Selector) cued(utterance string, slot schema.Slot) bool {
	if re := typedSpan(slot.Type); re != nil {
		_, _, ok := spanAfterCue(utterance, slot.Cues, re)
		return ok
	}
	end, ok := cueIndex(utterance, slot.Cues)
	if !ok {
		return false
	}
	switch slot.Type {
	case schema.TypeBoolean:
		_, found := policy.YesNoSpan(utterance[end:])
		return found
	case schema.TypeEnum:
		_, found := optionSpan(utterance[end:], slot.Options)
		return found
	default:
		return clauseAfter(utterance, end, slot.Type) != ""
	}
}

// canAnswer filters out replies that cannot be an answer at all, such as a
// bare yes to a free-form question.
func (s *Selector) canAnswer(utterance string, slot schema.Slot) bool {
	if slot.Type == schema.TypeBoolean {
		return true
	}
	if freeForm(slot.Type) {
		return policy.InterpretAnswer(utterance) == policy.AnswerUnclear || len(utterance) > 12
	}
	return true
}
