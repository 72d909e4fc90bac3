package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/hrdesk/internal/dialogue"
	"github.com/ent0n29/hrdesk/internal/logging"
	"github.com/ent0n29/hrdesk/internal/schema"
)

// Responder writes small-talk replies with the model and keeps the rule
// responder for failures.
type Responder struct {
	completer Completer
	fallback  dialogue.Responder
	registry  *schema.Registry
	log       logging.Logger
}

func NewResponder(completer Completer, fallback dialogue.Responder, registry *schema.Registry, log logging.Logger) *Responder {
	return &Responder{
		completer: completer,
		fallback:  fallback,
		registry:  registry,
		log:       logging.OrNop(log),
	}
}

func (r *Responder) Respond(ctx context.Context, utterance string, sess dialogue.SessionContext) (string, error) {
	if r.completer == nil {
		return r.fallback.Respond(ctx, utterance, sess)
	}
	system := "You are a friendly HR assistant. Answer in at most two short sentences. " +
		"Never claim to have done anything. " + dialogue.Capabilities(r.registry)

	var b strings.Builder
	if n := len(sess.History); n > 0 {
		last := sess.History[n-1]
		fmt.Fprintf(&b, "The last request (%s) ended as %s.\n", last.Intent, last.Status)
	}
	b.WriteString(utterance)

	text, err := r.completer.Complete(ctx, Request{
		System:      system,
		Prompt:      b.String(),
		MaxTokens:   120,
		Temperature: 0.7,
	})
	if err == nil {
		return text, nil
	}
	if passThrough(err) {
		return "", err
	}
	r.log.Warn("llm reply failed, using canned reply", "error", err)
	return r.fallback.Respond(ctx, utterance, sess)
}
