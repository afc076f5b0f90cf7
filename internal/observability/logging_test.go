package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestLoggerRedactsAPIKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "text", Output: &buf})

	logger.Info(context.Background(), "provider configured",
		"detail", "api_key=sk-abcdefghijklmnopqrstuvwxyz0123456789ABCDEFGHIJKL")

	out := buf.String()
	if strings.Contains(out, "sk-abcdefghijklmnop") {
		t.Errorf("api key leaked into log output: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("expected redaction marker in output: %s", out)
	}
}

func TestLoggerRedactsSensitiveMapKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "json", Output: &buf})

	logger.Info(context.Background(), "tool dispatch",
		"payload", map[string]any{"env": "GITHUB_TOKEN=hunter2hunter2", "tool": "fetch"})

	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Errorf("env map value leaked: %s", out)
	}
	if !strings.Contains(out, "fetch") {
		t.Errorf("non-sensitive value dropped: %s", out)
	}
}

func TestLoggerContextCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "text", Output: &buf})

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-42")
	ctx = context.WithValue(ctx, ConversationIDKey, "conv-7")
	logger.Info(ctx, "turn started")

	out := buf.String()
	if !strings.Contains(out, "req-42") {
		t.Errorf("request id missing: %s", out)
	}
	if !strings.Contains(out, "conv-7") {
		t.Errorf("conversation id missing: %s", out)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "text", Output: &buf})

	logger.Debug(context.Background(), "noise")
	logger.Info(context.Background(), "also noise")
	if buf.Len() != 0 {
		t.Errorf("expected no output below warn, got: %s", buf.String())
	}

	logger.Warn(context.Background(), "kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Error("warn-level record was filtered")
	}
}
