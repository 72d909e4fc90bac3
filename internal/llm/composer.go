package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/hrdesk/internal/dialogue"
	"github.com/ent0n29/hrdesk/internal/logging"
)

// MessageComposer writes the outbound message for a completed task.
type MessageComposer interface {
	Compose(ctx context.Context, req dialogue.ExecuteRequest) (string, error)
}

// Composer has the model write the notification text. The recipients, the
// payload and the decision to send stay with the caller.
type Composer struct {
	completer Completer
	fallback  MessageComposer
	log       logging.Logger
}

func NewComposer(completer Completer, fallback MessageComposer, log logging.Logger) *Composer {
	return &Composer{completer: completer, fallback: fallback, log: logging.OrNop(log)}
}

func (c *Composer) Compose(ctx context.Context, req dialogue.ExecuteRequest) (string, error) {
	if c.completer == nil {
		return c.fallback.Compose(ctx, req)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Compose a short professional team chat message for a %s request.\n", strings.ReplaceAll(req.Intent, "_", " "))
	b.WriteString("Details:\n")
	for _, name := range req.Fields {
		v, ok := req.Slots[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", strings.ReplaceAll(name, "_", " "), v.Value)
	}
	b.WriteString("Include every detail and nothing else.")

	text, err := c.completer.Complete(ctx, Request{
		Prompt:      b.String(),
		MaxTokens:   200,
		Temperature: 0.6,
	})
	if err == nil {
		return text, nil
	}
	if passThrough(err) {
		return "", err
	}
	c.log.Warn("llm compose failed, using template", "intent", req.Intent, "error", err)
	return c.fallback.Compose(ctx, req)
}
