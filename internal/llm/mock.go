package llm

import (
	"context"
	"strings"
)

// MockCompleter returns deterministic text for local runs. It echoes the
// last line of the prompt, which the wrappers treat like any other model
// output.
type MockCompleter struct{}

func NewMockCompleter() *MockCompleter { return &MockCompleter{} }

func (m *MockCompleter) Complete(ctx context.Context, req Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	lines := strings.Split(strings.TrimSpace(req.Prompt), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return "", ErrEmptyCompletion
	}
	return last, nil
}
