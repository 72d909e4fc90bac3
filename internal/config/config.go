package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the HR assistant service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LogLevel  string
	LogFormat string

	DatabaseURL      string
	SessionRetention time.Duration

	TaskRegistryPath  string
	DefaultMaxRetries int
	Timezone          *time.Location

	NLUMode       string
	LLMProvider   string
	LLMAPIKey     string
	LLMModel      string
	LLMBaseURL    string
	LLMTimeout    time.Duration
	PromptRewrite bool

	ActionMode            string
	ActionWebhookURL      string
	DiscordBotToken       string
	DiscordChannels       map[string]string
	DiscordDefaultChannel string
	TelegramBotToken      string
	TelegramChatID        int64
}

const discordChannelPrefix = "DISCORD_CHANNEL_"

// LoadDotEnv copies variables from env files into the process environment.
// Variables already set win. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:              envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:      envOrDefault("APP_METRICS_NAMESPACE", "hrdesk"),
		AllowAnyOrigin:        false,
		LogLevel:              envOrDefault("LOG_LEVEL", "info"),
		LogFormat:             envOrDefault("LOG_FORMAT", "json"),
		DatabaseURL:           stringsTrimSpace("DATABASE_URL"),
		TaskRegistryPath:      stringsTrimSpace("TASK_REGISTRY_PATH"),
		NLUMode:               strings.ToLower(envOrDefault("NLU_MODE", "rules")),
		LLMProvider:           strings.ToLower(envOrDefault("LLM_PROVIDER", "openai")),
		LLMAPIKey:             stringsTrimSpace("LLM_API_KEY"),
		LLMModel:              stringsTrimSpace("LLM_MODEL"),
		LLMBaseURL:            stringsTrimSpace("LLM_BASE_URL"),
		ActionMode:            strings.ToLower(envOrDefault("ACTION_MODE", "log")),
		ActionWebhookURL:      stringsTrimSpace("ACTION_WEBHOOK_URL"),
		DiscordBotToken:       stringsTrimSpace("DISCORD_BOT_TOKEN"),
		DiscordDefaultChannel: stringsTrimSpace("DISCORD_DEFAULT_CHANNEL"),
		DiscordChannels:       prefixedEnv(discordChannelPrefix),
		TelegramBotToken:      stringsTrimSpace("TELEGRAM_BOT_TOKEN"),
		ShutdownTimeout:       15 * time.Second,
		SessionRetention:      24 * time.Hour,
		DefaultMaxRetries:     3,
		LLMTimeout:            8 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionRetention, err = durationFromEnv("SESSION_RETENTION", cfg.SessionRetention)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTimeout, err = durationFromEnv("LLM_TIMEOUT", cfg.LLMTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.DefaultMaxRetries, err = intFromEnv("DEFAULT_MAX_RETRIES", cfg.DefaultMaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.PromptRewrite, err = boolFromEnv("PROMPT_REWRITE", cfg.PromptRewrite)
	if err != nil {
		return Config{}, err
	}
	cfg.TelegramChatID, err = int64FromEnv("TELEGRAM_CHAT_ID", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.Timezone, err = time.LoadLocation(envOrDefault("APP_TIMEZONE", "UTC"))
	if err != nil {
		return Config{}, fmt.Errorf("APP_TIMEZONE parse error: %w", err)
	}

	if cfg.DefaultMaxRetries < 1 {
		return Config{}, fmt.Errorf("DEFAULT_MAX_RETRIES must be at least 1")
	}
	if cfg.SessionRetention < 0 {
		return Config{}, fmt.Errorf("SESSION_RETENTION must not be negative")
	}
	if cfg.LLMTimeout <= 0 {
		return Config{}, fmt.Errorf("LLM_TIMEOUT must be positive")
	}
	switch cfg.NLUMode {
	case "rules", "llm":
	default:
		return Config{}, fmt.Errorf("NLU_MODE must be rules or llm, got %q", cfg.NLUMode)
	}
	if (cfg.NLUMode == "llm" || cfg.PromptRewrite) && cfg.LLMAPIKey == "" && cfg.LLMProvider != "mock" && cfg.LLMProvider != "langchain" {
		return Config{}, fmt.Errorf("LLM_API_KEY is required when NLU_MODE=llm or PROMPT_REWRITE is set")
	}
	switch cfg.ActionMode {
	case "log":
	case "webhook":
		if cfg.ActionWebhookURL == "" {
			return Config{}, fmt.Errorf("ACTION_WEBHOOK_URL is required when ACTION_MODE=webhook")
		}
	case "discord":
		if cfg.DiscordBotToken == "" {
			return Config{}, fmt.Errorf("DISCORD_BOT_TOKEN is required when ACTION_MODE=discord")
		}
	case "telegram":
		if cfg.TelegramBotToken == "" || cfg.TelegramChatID == 0 {
			return Config{}, fmt.Errorf("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID are required when ACTION_MODE=telegram")
		}
	default:
		return Config{}, fmt.Errorf("ACTION_MODE must be log, webhook, discord or telegram, got %q", cfg.ActionMode)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// prefixedEnv collects PREFIX_<NAME>=value pairs keyed by lower-cased NAME.
func prefixedEnv(prefix string) map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, prefix))
		if name == "" || strings.TrimSpace(value) == "" {
			continue
		}
		out[name] = strings.TrimSpace(value)
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func int64FromEnv(key string, fallback int64) (int64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
