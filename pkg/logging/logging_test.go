package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewJSONLoggerCarriesServiceAndComponent(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(New(&buf, "json", "debug"))

	WithComponent("orchestrator").Debug("stage finished", "stage", "retrieval")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if entry["service"] != "regulatory-rag" {
		t.Fatalf("expected service field, got %v", entry["service"])
	}
	if entry["component"] != "orchestrator" {
		t.Fatalf("expected component field, got %v", entry["component"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestTrim(t *testing.T) {
	if got := Trim("  short  ", 10); got != "short" {
		t.Fatalf("unexpected trim result %q", got)
	}
	long := strings.Repeat("ä", 20)
	if got := Trim(long, 5); got != strings.Repeat("ä", 5)+"..." {
		t.Fatalf("expected rune-aware trim, got %q", got)
	}
}
