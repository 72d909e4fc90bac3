package dialogue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnqueue(t *testing.T) {
	tests := []struct {
		name   string
		queue  []string
		active string
		intent string
		want   []string
	}{
		{name: "append", queue: []string{"a"}, active: "x", intent: "b", want: []string{"a", "b"}},
		{name: "active intent", queue: []string{"a"}, active: "x", intent: "x", want: []string{"a"}},
		{name: "already queued", queue: []string{"a", "b"}, active: "x", intent: "a", want: []string{"a", "b"}},
		{name: "empty intent", queue: nil, active: "x", intent: "", want: []string{}},
		{name: "idle session", queue: nil, active: "", intent: "a", want: []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Enqueue(tt.queue, tt.active, tt.intent))
		})
	}
}

func TestEnqueueDoesNotAlias(t *testing.T) {
	queue := make([]string, 1, 4)
	queue[0] = "a"
	out := Enqueue(queue, "", "b")
	out[0] = "z"
	assert.Equal(t, "a", queue[0])
}

func TestDequeueNextIsFIFO(t *testing.T) {
	queue := []string{"a", "b", "c"}

	next, rest, ok := DequeueNext(queue)
	assert.True(t, ok)
	assert.Equal(t, "a", next)
	assert.Equal(t, []string{"b", "c"}, rest)
	assert.Equal(t, []string{"a", "b", "c"}, queue)

	_, rest, ok = DequeueNext(nil)
	assert.False(t, ok)
	assert.Empty(t, rest)
}
