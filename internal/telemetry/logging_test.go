package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/paintbridge/internal/shared"
)

func lastEntry(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		t.Fatalf("expected at least one log line")
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("unmarshal log json: %v", err)
	}
	return entry
}

func TestNewLogger_EmitsStructuredSchema(t *testing.T) {
	home := t.TempDir()
	logger, closer, err := NewLogger(home, "debug", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closer.Close()

	logger.Info("startup phase", "phase", "config_loaded", "tag", "save")

	raw, err := os.ReadFile(filepath.Join(home, "logs", "system.jsonl"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	entry := lastEntry(t, raw)
	for _, key := range []string{"timestamp", "level", "msg", "component", "trace_id"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("missing required key %q in log entry: %#v", key, entry)
		}
	}
	if entry["component"] != "core" {
		t.Fatalf("expected component=core, got %#v", entry["component"])
	}
	if entry["trace_id"] != "-" {
		t.Fatalf("expected trace_id='-', got %#v", entry["trace_id"])
	}
	if entry["tag"] != "save" {
		t.Fatalf("expected tag propagation, got %#v", entry["tag"])
	}
}

func TestNewLogger_RedactsSensitiveFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "info")

	logger.Info("login attempt",
		"password", "hunter2",
		"auth_header", "Authorization: Bearer super-secret-token",
		"payload", `{"username":"ann","password":"hunter2"}`,
	)

	entry := lastEntry(t, buf.Bytes())
	if entry["password"] != "[REDACTED]" {
		t.Fatalf("expected password redaction, got %#v", entry["password"])
	}
	if entry["auth_header"] != "[REDACTED]" {
		t.Fatalf("expected auth_header redaction, got %#v", entry["auth_header"])
	}
	if p, _ := entry["payload"].(string); strings.Contains(p, "hunter2") {
		t.Fatalf("expected payload redaction, got %#v", entry["payload"])
	}
}

func TestNewLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn")
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered at warn level, got %s", buf.String())
	}
	logger.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected warn entry, got %s", buf.String())
	}
}

func TestForContext_AddsIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "info")
	ctx := shared.WithSurfaceID(shared.WithTraceID(context.Background(), "trace-1"), "surface-1")

	ForContext(ctx, Component(logger, "dispatch")).Info("dispatched")

	entry := lastEntry(t, buf.Bytes())
	if entry["trace_id"] != "trace-1" {
		t.Fatalf("trace_id = %#v, want trace-1", entry["trace_id"])
	}
	if entry["surface_id"] != "surface-1" {
		t.Fatalf("surface_id = %#v, want surface-1", entry["surface_id"])
	}
	if entry["component"] != "dispatch" {
		t.Fatalf("component = %#v, want dispatch", entry["component"])
	}
}
