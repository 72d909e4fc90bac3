package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "debug", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.With("session_id", "s1").Info("turn processed", "directives", 2)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "turn processed" {
		t.Fatalf("msg = %v, want %q", rec["msg"], "turn processed")
	}
	if rec["session_id"] != "s1" {
		t.Fatalf("session_id = %v, want %q", rec["session_id"], "s1")
	}
}

func TestNewTextLoggerFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "warn", Format: "text", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.Info("hidden")
	l.Warn("shown")
	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("info line written at warn level: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("warn line missing: %q", buf.String())
	}
}

func TestNewRejectsUnknownSettings(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Fatalf("New() expected error for unknown level")
	}
	if _, err := New(Config{Format: "xml"}); err == nil {
		t.Fatalf("New() expected error for unknown format")
	}
}

func TestParseLevel(t *testing.T) {
	got, err := ParseLevel("WARNING")
	if err != nil {
		t.Fatalf("ParseLevel() error = %v", err)
	}
	if got != slog.LevelWarn {
		t.Fatalf("ParseLevel() = %v, want %v", got, slog.LevelWarn)
	}
}

func TestOrNop(t *testing.T) {
	l := OrNop(nil)
	l.With("k", "v").Error("discarded")
}
