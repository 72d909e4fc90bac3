package llm

import (
	"context"
	"regexp"
	"strings"

	"github.com/ent0n29/hrdesk/internal/dialogue"
	"github.com/ent0n29/hrdesk/internal/logging"
)

const rewriteSystem = `You are rephrasing a system-generated question for an HR chatbot.
Rules:
- Return exactly one sentence that asks exactly one question
- Do not offer options, explain or add prefixes
- Keep it short and professional`

var (
	leadingNumber = regexp.MustCompile(`^\d+[.)]\s*`)
	sentenceEnd   = regexp.MustCompile(`[.!?]`)
)

// Rewriter rewords slot questions. Only ask_slot prompts are touched; retry
// and confirmation wording stays exact, as does every notice.
type Rewriter struct {
	completer Completer
	log       logging.Logger
}

func NewRewriter(completer Completer, log logging.Logger) *Rewriter {
	return &Rewriter{completer: completer, log: logging.OrNop(log)}
}

// Rewrite returns directives with rephrased slot questions. Any failure
// keeps the original text.
func (r *Rewriter) Rewrite(ctx context.Context, directives []dialogue.Directive) []dialogue.Directive {
	if r == nil || r.completer == nil {
		return directives
	}
	out := make([]dialogue.Directive, len(directives))
	copy(out, directives)
	for i, d := range out {
		if d.Code != dialogue.CodeAskSlot {
			continue
		}
		text, err := r.completer.Complete(ctx, Request{
			System:      rewriteSystem,
			Prompt:      "Input question: " + d.Text + "\nOutput (one sentence only):",
			MaxTokens:   50,
			Temperature: 0.5,
		})
		if err != nil {
			r.log.Debug("prompt rewrite failed", "slot", d.Slot, "error", err)
			continue
		}
		if cleaned := cleanQuestion(text, d.Text); cleaned != "" {
			out[i].Text = cleaned
		}
	}
	return out
}

// cleanQuestion keeps the first sentence of a model reply and makes sure a
// question still ends with a question mark.
func cleanQuestion(reply, original string) string {
	s := strings.TrimSpace(reply)
	s = strings.Trim(s, "\"'")
	s = leadingNumber.ReplaceAllString(s, "")
	if loc := sentenceEnd.FindStringIndex(s); loc != nil {
		s = s[:loc[1]]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if !strings.HasSuffix(s, "?") && strings.HasSuffix(strings.TrimSpace(original), "?") {
		s = strings.TrimRight(s, ".!") + "?"
	}
	return s
}
