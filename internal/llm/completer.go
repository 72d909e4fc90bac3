// Package llm holds the optional language-model collaborators. Every
// component wraps a deterministic fallback and only adds model output on
// top of it: a failed or malformed completion never changes a dialogue
// decision.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrEmptyCompletion = errors.New("llm returned no text")
	ErrNotConfigured   = errors.New("llm provider is not configured")
)

// Request is one single-shot completion.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Completer turns a prompt into text.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Config controls completer construction.
type Config struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration
}

const defaultMaxTokens = 256

func NewCompleter(cfg Config) (Completer, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "openai"
	}

	var (
		c   Completer
		err error
	)
	switch provider {
	case "openai":
		c, err = NewOpenAICompleter(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case "anthropic":
		c, err = NewAnthropicCompleter(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case "langchain":
		c, err = NewLangChainCompleter(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case "mock":
		c = NewMockCompleter()
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Timeout > 0 {
		c = &timeoutCompleter{inner: c, timeout: cfg.Timeout}
	}
	return c, nil
}

type timeoutCompleter struct {
	inner   Completer
	timeout time.Duration
}

func (t *timeoutCompleter) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Complete(ctx, req)
}

// passThrough reports errors that must reach the caller instead of
// triggering the fallback path.
func passThrough(err error) bool {
	return errors.Is(err, context.Canceled)
}

func maxTokens(n int) int {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}
