package dialogue

import (
	"fmt"
	"strings"

	"github.com/ent0n29/hrdesk/internal/schema"
)

func humanize(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), "_", " ")
}

func askDirective(intent string, slot schema.Slot, retry bool) Directive {
	d := Directive{Kind: KindPrompt, Code: CodeAskSlot, Text: slot.Prompt, Intent: intent, Slot: slot.Name}
	if retry {
		d.Code = CodeRetrySlot
		d.Text = "Sorry, I didn't catch that. " + slot.Prompt
	}
	return d
}

func confirmDirective(intent string, slot SlotState, unclear bool) Directive {
	text := fmt.Sprintf("I understood '%s' as '%s'. Is this correct?", slot.Raw, slot.Candidate)
	code := CodeConfirmValue
	if unclear {
		text = "Please answer yes or no. " + text + " (yes/no)"
		code = CodeConfirmUnclear
	}
	return Directive{Kind: KindPrompt, Code: code, Text: text, Intent: intent, Slot: slot.Name, Value: slot.Candidate}
}

func fallbackDirective(intent string, slot schema.Slot) Directive {
	return Directive{
		Kind:   KindNotice,
		Code:   CodeFallbackApplied,
		Text:   fmt.Sprintf("I'll go with '%s' for the %s.", slot.Default, humanize(slot.Name)),
		Intent: intent,
		Slot:   slot.Name,
		Value:  slot.Default,
	}
}

func abortDirective(intent string, slot schema.Slot) Directive {
	return Directive{
		Kind:   KindNotice,
		Code:   CodeTaskAborted,
		Text:   fmt.Sprintf("I couldn't get a valid %s after several tries, so I stopped the %s request.", humanize(slot.Name), humanize(intent)),
		Intent: intent,
		Slot:   slot.Name,
	}
}

func startedDirective(intent string, resumed bool) Directive {
	text := fmt.Sprintf("Okay, I can help you %s.", humanize(intent))
	if resumed {
		text = fmt.Sprintf("Now let's %s.", humanize(intent))
	}
	return Directive{Kind: KindNotice, Code: CodeTaskStarted, Text: text, Intent: intent}
}

func queuedDirective(intent, active string) Directive {
	return Directive{
		Kind:   KindNotice,
		Code:   CodeIntentQueued,
		Text:   fmt.Sprintf("I'll help you %s once we finish the %s request.", humanize(intent), humanize(active)),
		Intent: intent,
	}
}

func completedDirective(intent, summary string) Directive {
	text := strings.TrimSpace(summary)
	if text == "" {
		text = fmt.Sprintf("Done! Your %s request has been submitted.", humanize(intent))
	}
	return Directive{Kind: KindNotice, Code: CodeTaskCompleted, Text: text, Intent: intent}
}

// failedDirective surfaces the executor's reason verbatim.
func failedDirective(intent, reason string) Directive {
	return Directive{Kind: KindError, Code: CodeTaskFailed, Text: reason, Intent: intent}
}

func cancelledDirective(intent string) Directive {
	return Directive{
		Kind:   KindNotice,
		Code:   CodeTaskCancelled,
		Text:   fmt.Sprintf("Okay, I've cancelled the %s request.", humanize(intent)),
		Intent: intent,
	}
}

func nothingToCancelDirective() Directive {
	return Directive{Kind: KindNotice, Code: CodeNothingToCancel, Text: "There's nothing to cancel right now."}
}

func chatDirective(text string) Directive {
	return Directive{Kind: KindNotice, Code: CodeChat, Text: text}
}

func storageFailureDirective() Directive {
	return Directive{
		Kind: KindError,
		Code: CodeStorageFailure,
		Text: "I couldn't save our conversation. Please try again in a moment.",
	}
}

// Capabilities is the canned reply used when no responder is available.
func Capabilities(registry *schema.Registry) string {
	intents := registry.Intents()
	names := make([]string, 0, len(intents))
	for _, intent := range intents {
		names = append(names, humanize(intent))
	}
	switch len(names) {
	case 0:
		return "I'm here to help."
	case 1:
		return fmt.Sprintf("I can help you %s.", names[0])
	default:
		return fmt.Sprintf("I can help you %s, or %s.", strings.Join(names[:len(names)-1], ", "), names[len(names)-1])
	}
}
