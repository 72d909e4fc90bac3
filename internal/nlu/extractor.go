package nlu

import (
	"context"
	"strings"

	"github.com/ent0n29/hrdesk/internal/policy"
	"github.com/ent0n29/hrdesk/internal/schema"
)

// Extractor pulls a verbatim span for a slot. It never rewrites the text it
// returns: every value is a substring of the utterance.
type Extractor struct{}

func NewExtractor() *Extractor { return &Extractor{} }

func (x *Extractor) Extract(_ context.Context, utterance string, slot schema.Slot) (string, bool, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return "", false, nil
	}
	var span string
	switch slot.Type {
	case schema.TypeEnum:
		span, _ = optionSpan(utterance, slot.Options)
	case schema.TypeBoolean:
		span, _ = policy.YesNoSpan(utterance)
	case schema.TypeText, schema.TypeName, schema.TypeParticipants:
		span = x.freeForm(utterance, slot)
	default:
		span = x.shaped(utterance, slot)
	}
	span = strings.TrimSpace(span)
	return span, span != "", nil
}

func (x *Extractor) shaped(utterance string, slot schema.Slot) string {
	re := typedSpan(slot.Type)
	if re == nil {
		return ""
	}
	if start, end, ok := spanAfterCue(utterance, slot.Cues, re); ok {
		return utterance[start:end]
	}
	if span := re.FindString(utterance); span != "" {
		return span
	}
	if slot.Type == schema.TypeAmount {
		return looseAmountSpan.FindString(utterance)
	}
	return ""
}

func (x *Extractor) freeForm(utterance string, slot schema.Slot) string {
	if end, ok := cueIndex(utterance, slot.Cues); ok {
		if span := clauseAfter(utterance, end, slot.Type); span != "" {
			return span
		}
	}
	answer := stripAnswerPrefix(utterance)
	if slot.Type == schema.TypeName {
		return clauseAfter(answer, 0, schema.TypeName)
	}
	return answer
}
