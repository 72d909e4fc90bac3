package nlu

import (
	"context"
	"regexp"

	"github.com/ent0n29/hrdesk/internal/dialogue"
	"github.com/ent0n29/hrdesk/internal/schema"
)

var (
	greeting = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|good\s+(morning|afternoon|evening))\b`)
	thanks   = regexp.MustCompile(`(?i)\b(thanks|thank\s+you|cheers)\b`)
)

// Responder answers small talk with canned replies that point back at the
// tasks the assistant can handle.
type Responder struct {
	registry *schema.Registry
}

func NewResponder(registry *schema.Registry) *Responder {
	return &Responder{registry: registry}
}

func (r *Responder) Respond(_ context.Context, utterance string, sess dialogue.SessionContext) (string, error) {
	capabilities := dialogue.Capabilities(r.registry)
	switch {
	case thanks.MatchString(utterance):
		return "You're welcome! " + capabilities + " Just let me know.", nil
	case greeting.MatchString(utterance):
		if sess.TurnCount > 0 {
			return "Hello again! " + capabilities, nil
		}
		return "Hello! " + capabilities, nil
	default:
		return "I'm not sure I can help with that. " + capabilities, nil
	}
}
