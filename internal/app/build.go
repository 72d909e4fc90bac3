// Package app wires configuration into a running assistant.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ent0n29/hrdesk/internal/actions"
	"github.com/ent0n29/hrdesk/internal/config"
	"github.com/ent0n29/hrdesk/internal/dialogue"
	"github.com/ent0n29/hrdesk/internal/httpapi"
	"github.com/ent0n29/hrdesk/internal/llm"
	"github.com/ent0n29/hrdesk/internal/logging"
	"github.com/ent0n29/hrdesk/internal/nlu"
	"github.com/ent0n29/hrdesk/internal/observability"
	"github.com/ent0n29/hrdesk/internal/schema"
	"github.com/ent0n29/hrdesk/internal/store"
	"github.com/ent0n29/hrdesk/internal/taskruntime"
)

const janitorInterval = time.Minute

type NLUInfo struct {
	Mode     string
	Provider string
	Rewrite  bool
}

type BuildResult struct {
	Config   config.Config
	Logger   logging.Logger
	Registry *schema.Registry
	Store    store.Store
	Engine   *dialogue.Engine
	Runtime  *taskruntime.Service
	API      *httpapi.Server
	Metrics  *observability.Metrics
	NLU      NLUInfo
	Notifier string

	// Cleanup releases the store connection.
	Cleanup func() error
}

// Build assembles every component from cfg. A nil log is built from the
// configured level and format.
func Build(ctx context.Context, cfg config.Config, log logging.Logger) (*BuildResult, error) {
	if log == nil {
		l, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stderr})
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		log = l
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	registry, err := schema.Load(cfg.TaskRegistryPath, cfg.DefaultMaxRetries)
	if err != nil {
		return nil, fmt.Errorf("task registry load failed: %w", err)
	}

	st, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("session store init failed: %w", err)
	}

	res, err := assemble(cfg, log, metrics, registry, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return res, nil
}

func assemble(cfg config.Config, log logging.Logger, metrics *observability.Metrics, registry *schema.Registry, st store.Store) (*BuildResult, error) {
	var (
		classifier dialogue.Classifier = nlu.NewClassifier(registry, nlu.DefaultThreshold)
		responder  dialogue.Responder  = nlu.NewResponder(registry)
		composer   actions.Composer
		rewriter   taskruntime.DirectiveRewriter
		info       = NLUInfo{Mode: cfg.NLUMode}
	)

	templates, err := actions.NewTemplateComposer()
	if err != nil {
		return nil, fmt.Errorf("message templates: %w", err)
	}
	composer = templates

	if cfg.NLUMode == "llm" || cfg.PromptRewrite {
		completer, err := llm.NewCompleter(llm.Config{
			Provider: cfg.LLMProvider,
			APIKey:   cfg.LLMAPIKey,
			Model:    cfg.LLMModel,
			BaseURL:  cfg.LLMBaseURL,
			Timeout:  cfg.LLMTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("llm init failed: %w", err)
		}
		info.Provider = cfg.LLMProvider
		llmLog := log.With("component", "llm", "provider", cfg.LLMProvider)
		if cfg.NLUMode == "llm" {
			classifier = llm.NewClassifier(completer, classifier, registry, llmLog)
			responder = llm.NewResponder(completer, responder, registry, llmLog)
			composer = llm.NewComposer(completer, templates, llmLog)
		}
		if cfg.PromptRewrite {
			rewriter = llm.NewRewriter(completer, llmLog)
			info.Rewrite = true
		}
	}

	notifier, err := actions.NewNotifier(actions.Config{
		Mode:                  cfg.ActionMode,
		WebhookURL:            cfg.ActionWebhookURL,
		DiscordToken:          cfg.DiscordBotToken,
		DiscordChannels:       cfg.DiscordChannels,
		DiscordDefaultChannel: cfg.DiscordDefaultChannel,
		TelegramToken:         cfg.TelegramBotToken,
		TelegramChatID:        cfg.TelegramChatID,
	}, log.With("component", "actions"))
	if err != nil {
		return nil, fmt.Errorf("action notifier init failed: %w", err)
	}
	router, err := actions.NewRouter(actions.RouterOptions{
		Composer: composer,
		Notifier: notifier,
		Recorder: st,
		Logger:   log.With("component", "actions"),
		Metrics:  metrics,
	})
	if err != nil {
		return nil, err
	}

	engine, err := dialogue.NewEngine(dialogue.Options{
		Registry:   registry,
		Classifier: classifier,
		Selector:   nlu.NewSelector(),
		Extractor:  nlu.NewExtractor(),
		Normalizer: nlu.NewNormalizer(cfg.Timezone, nil),
		Executor:   router,
		Responder:  responder,
		Store:      st,
		Logger:     log,
		Metrics:    metrics,
	})
	if err != nil {
		return nil, err
	}

	runtime, err := taskruntime.New(engine, st, taskruntime.Options{
		Rewriter: rewriter,
		Logger:   log,
		Metrics:  metrics,
	})
	if err != nil {
		return nil, err
	}

	return &BuildResult{
		Config:   cfg,
		Logger:   log,
		Registry: registry,
		Store:    st,
		Engine:   engine,
		Runtime:  runtime,
		API:      httpapi.New(cfg, runtime, metrics, log),
		Metrics:  metrics,
		NLU:      info,
		Notifier: notifier.Name(),
		Cleanup:  st.Close,
	}, nil
}

// StartBackground runs the session retention janitor until ctx is done.
func (b *BuildResult) StartBackground(ctx context.Context) {
	store.StartJanitor(ctx, b.Store, b.Config.SessionRetention, janitorInterval, b.Logger.With("component", "janitor"))
}

// Close releases the store.
func (b *BuildResult) Close() error {
	if b == nil || b.Cleanup == nil {
		return nil
	}
	if err := b.Cleanup(); err != nil {
		return errors.Join(errors.New("cleanup failed"), err)
	}
	return nil
}
