package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/hrdesk/internal/dialogue"
	"github.com/ent0n29/hrdesk/internal/logging"
	"github.com/ent0n29/hrdesk/internal/policy"
	"github.com/ent0n29/hrdesk/internal/schema"
)

const classifySystem = "You classify messages sent to an HR assistant. " +
	"Reply with exactly one intent name from the list and nothing else."

// Classifier asks the model for an intent and falls back to the rule
// classifier when the call fails or the answer is not a known intent.
type Classifier struct {
	completer Completer
	fallback  dialogue.Classifier
	registry  *schema.Registry
	log       logging.Logger
}

func NewClassifier(completer Completer, fallback dialogue.Classifier, registry *schema.Registry, log logging.Logger) *Classifier {
	return &Classifier{
		completer: completer,
		fallback:  fallback,
		registry:  registry,
		log:       logging.OrNop(log),
	}
}

func (c *Classifier) Classify(ctx context.Context, utterance, activeIntent string) (string, error) {
	if policy.IsCancellation(utterance) {
		return schema.IntentCancel, nil
	}
	if c.completer == nil {
		return c.fallback.Classify(ctx, utterance, activeIntent)
	}

	text, err := c.completer.Complete(ctx, Request{
		System:      classifySystem,
		Prompt:      c.prompt(utterance, activeIntent),
		MaxTokens:   16,
		Temperature: 0,
	})
	if err == nil {
		if intent, ok := c.parse(text); ok {
			return intent, nil
		}
		err = fmt.Errorf("%w: %q", dialogue.ErrUnknownIntent, text)
	}
	if passThrough(err) {
		return "", err
	}
	c.log.Warn("llm classification failed, using rules", "error", err)
	return c.fallback.Classify(ctx, utterance, activeIntent)
}

func (c *Classifier) prompt(utterance, activeIntent string) string {
	var b strings.Builder
	b.WriteString("Intents:\n")
	for _, t := range c.registry.Tasks() {
		fmt.Fprintf(&b, "- %s: %s\n", t.Intent, t.Description)
	}
	fmt.Fprintf(&b, "- %s: greetings, small talk or anything else\n", schema.IntentNone)
	if activeIntent != "" {
		fmt.Fprintf(&b, "The user is currently working on %s.\n", activeIntent)
	}
	fmt.Fprintf(&b, "Message: %s\nIntent:", utterance)
	return b.String()
}

func (c *Classifier) parse(text string) (string, bool) {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return "", false
	}
	intent := strings.Trim(fields[0], "\"'`.,:;")
	if intent == schema.IntentNone || c.registry.Has(intent) {
		return intent, true
	}
	return "", false
}
