package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/hrdesk/internal/dialogue"
	"github.com/ent0n29/hrdesk/internal/nlu"
	"github.com/ent0n29/hrdesk/internal/schema"
)

func registry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.Default(schema.DefaultMaxRetries)
	require.NoError(t, err)
	return reg
}

func reply(text string, err error) CompleterFunc {
	return func(context.Context, Request) (string, error) { return text, err }
}

func TestNewCompleterProviders(t *testing.T) {
	_, err := NewCompleter(Config{Provider: "openai"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewCompleter(Config{Provider: "anthropic"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewCompleter(Config{Provider: "langchain", APIKey: "k"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewCompleter(Config{Provider: "bogus"})
	assert.Error(t, err)

	c, err := NewCompleter(Config{Provider: "openai", APIKey: "sk-test"})
	require.NoError(t, err)
	assert.NotNil(t, c)

	c, err = NewCompleter(Config{Provider: "anthropic", APIKey: "sk-test", Timeout: 1})
	require.NoError(t, err)
	assert.IsType(t, &timeoutCompleter{}, c)
}

func TestMockCompleterEchoesLastLine(t *testing.T) {
	got, err := NewMockCompleter().Complete(context.Background(), Request{Prompt: "first\n second "})
	require.NoError(t, err)
	assert.Equal(t, "second", got)
}

func TestClassifierUsesModelAnswer(t *testing.T) {
	reg := registry(t)
	var prompt string
	c := NewClassifier(CompleterFunc(func(_ context.Context, req Request) (string, error) {
		prompt = req.Prompt
		return "  Schedule_Meeting.", nil
	}), nlu.NewClassifier(reg, 0), reg, nil)

	got, err := c.Classify(context.Background(), "can we sync later", "request_time_off")
	require.NoError(t, err)
	assert.Equal(t, "schedule_meeting", got)
	assert.Contains(t, prompt, "submit_it_ticket")
	assert.Contains(t, prompt, "currently working on request_time_off")
}

func TestClassifierFallsBackToRules(t *testing.T) {
	reg := registry(t)
	tests := []struct {
		name string
		c    Completer
	}{
		{"error", reply("", errors.New("rate limited"))},
		{"unknown intent", reply("book_flight", nil)},
		{"no completer", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(tt.c, nlu.NewClassifier(reg, 0), reg, nil)
			got, err := c.Classify(context.Background(), "My laptop is broken", "")
			require.NoError(t, err)
			assert.Equal(t, "submit_it_ticket", got)
		})
	}
}

func TestClassifierKeepsCancellationDeterministic(t *testing.T) {
	reg := registry(t)
	calls := 0
	c := NewClassifier(CompleterFunc(func(context.Context, Request) (string, error) {
		calls++
		return "schedule_meeting", nil
	}), nlu.NewClassifier(reg, 0), reg, nil)

	got, err := c.Classify(context.Background(), "never mind", "schedule_meeting")
	require.NoError(t, err)
	assert.Equal(t, schema.IntentCancel, got)
	assert.Zero(t, calls)
}

func TestClassifierReturnsCancelledContext(t *testing.T) {
	reg := registry(t)
	c := NewClassifier(reply("", context.Canceled), nlu.NewClassifier(reg, 0), reg, nil)
	_, err := c.Classify(context.Background(), "My laptop is broken", "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResponderFallsBack(t *testing.T) {
	reg := registry(t)
	r := NewResponder(reply("", errors.New("down")), nlu.NewResponder(reg), reg, nil)
	got, err := r.Respond(context.Background(), "hello", dialogue.SessionContext{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "Hello!"))

	r = NewResponder(reply("Hi, how can I help?", nil), nlu.NewResponder(reg), reg, nil)
	got, err = r.Respond(context.Background(), "hello", dialogue.SessionContext{})
	require.NoError(t, err)
	assert.Equal(t, "Hi, how can I help?", got)
}

func TestRewriterOnlyTouchesSlotQuestions(t *testing.T) {
	r := NewRewriter(reply(`"1. Which day works best for you? Or maybe another"`, nil), nil)
	in := []dialogue.Directive{
		{Kind: dialogue.KindNotice, Code: dialogue.CodeTaskStarted, Text: "Let's schedule a meeting."},
		{Kind: dialogue.KindPrompt, Code: dialogue.CodeAskSlot, Slot: "date", Text: "What date should the meeting be on?"},
		{Kind: dialogue.KindPrompt, Code: dialogue.CodeConfirmValue, Slot: "date", Text: "I understood 'tomorrow' as '2026-10-19'. Is this correct?"},
	}
	out := r.Rewrite(context.Background(), in)
	require.Len(t, out, 3)
	assert.Equal(t, in[0], out[0])
	assert.Equal(t, "Which day works best for you?", out[1].Text)
	assert.Equal(t, in[2], out[2])
	assert.Equal(t, "What date should the meeting be on?", in[1].Text, "input must not be modified")
}

func TestRewriterKeepsOriginalOnFailure(t *testing.T) {
	r := NewRewriter(reply("", errors.New("timeout")), nil)
	in := []dialogue.Directive{{Code: dialogue.CodeAskSlot, Text: "What is your name?"}}
	assert.Equal(t, in, r.Rewrite(context.Background(), in))

	var nilRewriter *Rewriter
	assert.Equal(t, in, nilRewriter.Rewrite(context.Background(), in))
}

func TestCleanQuestion(t *testing.T) {
	assert.Equal(t, "When do you want to start?", cleanQuestion("When do you want to start", "What is the start date?"))
	assert.Equal(t, "Please describe the issue.", cleanQuestion("'Please describe the issue.'", "Describe the issue."))
	assert.Empty(t, cleanQuestion("  ", "What?"))
}

type staticComposer string

func (s staticComposer) Compose(context.Context, dialogue.ExecuteRequest) (string, error) {
	return string(s), nil
}

func TestComposer(t *testing.T) {
	req := dialogue.ExecuteRequest{
		Intent: "submit_it_ticket",
		Slots: map[string]dialogue.SlotValue{
			"issue_description": {Value: "VPN drops", Source: dialogue.SourceUser},
			"urgency":           {Value: "medium", Source: dialogue.SourceFallback},
		},
		Fields: []string{"issue_description", "urgency"},
	}

	var prompt string
	c := NewComposer(CompleterFunc(func(_ context.Context, r Request) (string, error) {
		prompt = r.Prompt
		return "New IT ticket: VPN drops (medium)", nil
	}), staticComposer("template"), nil)
	got, err := c.Compose(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "New IT ticket: VPN drops (medium)", got)
	assert.Contains(t, prompt, "issue description: VPN drops")
	assert.Contains(t, prompt, "urgency: medium")

	c = NewComposer(reply("", errors.New("down")), staticComposer("template"), nil)
	got, err = c.Compose(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "template", got)
}
