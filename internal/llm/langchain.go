package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// LangChainCompleter talks to any OpenAI-compatible endpoint (Groq,
// OpenRouter, Ollama) through langchaingo.
type LangChainCompleter struct {
	model llms.Model
}

func NewLangChainCompleter(apiKey, model, baseURL string) (*LangChainCompleter, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("%w: base url is required for the langchain provider", ErrNotConfigured)
	}
	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithBaseURL(baseURL),
	}
	if strings.TrimSpace(model) != "" {
		opts = append(opts, openai.WithModel(model))
	}
	m, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("init langchain client: %w", err)
	}
	return &LangChainCompleter{model: m}, nil
}

func (c *LangChainCompleter) Complete(ctx context.Context, req Request) (string, error) {
	var messages []llms.MessageContent
	if req.System != "" {
		messages = append(messages, llms.MessageContent{
			Role:  schema.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(req.System)},
		})
	}
	messages = append(messages, llms.MessageContent{
		Role:  schema.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(req.Prompt)},
	})

	resp, err := c.model.GenerateContent(ctx, messages,
		llms.WithMaxTokens(maxTokens(req.MaxTokens)),
		llms.WithTemperature(req.Temperature),
	)
	if err != nil {
		return "", fmt.Errorf("langchain generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	text := strings.TrimSpace(resp.Choices[0].Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
