package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ent0n29/hrdesk/internal/config"
	"github.com/ent0n29/hrdesk/internal/dialogue"
	"github.com/ent0n29/hrdesk/internal/logging"
	"github.com/ent0n29/hrdesk/internal/store"
)

const badgeRegistry = `
tasks:
  - intent: order_badge
    description: Order a replacement office badge
    keywords:
      - terms: [badge]
        weight: 3
    slots:
      - name: floor
        type: enum
        prompt: Which floor do you work on? (first or second)
        options: [first, second]
    completion:
      action: post_badge_order
      fields: [floor]
`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		MetricsNamespace:  "test_app_" + time.Now().Format("150405") + "_" + time.Now().Format("000000000"),
		DefaultMaxRetries: 3,
		Timezone:          time.UTC,
		NLUMode:           "rules",
		ActionMode:        "log",
		LLMTimeout:        time.Second,
	}
}

func TestBuildRunsTaskEndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	if err := os.WriteFile(path, []byte(badgeRegistry), 0o600); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	cfg := testConfig(t)
	cfg.TaskRegistryPath = path

	res, err := Build(context.Background(), cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer res.Close()
	if res.Notifier != "log" || res.NLU.Mode != "rules" {
		t.Fatalf("unexpected build info: notifier=%q nlu=%+v", res.Notifier, res.NLU)
	}

	ctx := context.Background()
	first, err := res.Runtime.Turn(ctx, dialogue.TurnRequest{SessionID: "s1", TurnID: "t1", Utterance: "I lost my badge"})
	if err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	if first.Status.ActiveIntent != "order_badge" {
		t.Fatalf("status = %+v, want order_badge active", first.Status)
	}

	second, err := res.Runtime.Turn(ctx, dialogue.TurnRequest{SessionID: "s1", TurnID: "t2", Utterance: "the second floor"})
	if err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	completed := false
	for _, d := range second.Directives {
		if d.Code == dialogue.CodeTaskCompleted {
			completed = true
		}
	}
	if !completed || second.Status.ActiveIntent != "" {
		t.Fatalf("second turn = %+v, want completed task", second)
	}

	execs, err := res.Store.Actions(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("Actions() error = %v", err)
	}
	if len(execs) != 1 || execs[0].Action != "post_badge_order" || execs[0].Status != store.ActionSent {
		t.Fatalf("actions = %+v", execs)
	}
}

func TestBuildRejectsBadRegistry(t *testing.T) {
	cfg := testConfig(t)
	cfg.TaskRegistryPath = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := Build(context.Background(), cfg, logging.NewNop()); err == nil {
		t.Fatal("Build() error = nil, want registry error")
	}
}

func TestBuildWithMockLLM(t *testing.T) {
	cfg := testConfig(t)
	cfg.NLUMode = "llm"
	cfg.LLMProvider = "mock"
	cfg.PromptRewrite = true

	res, err := Build(context.Background(), cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer res.Close()
	if res.NLU.Provider != "mock" || !res.NLU.Rewrite {
		t.Fatalf("nlu info = %+v", res.NLU)
	}
}
