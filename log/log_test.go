package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func newTestLogger(buf *bytes.Buffer, level slog.Level) *Logger {
	h := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: level})
	return NewWithHandler(h)
}

func TestLoggerModule(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, slog.LevelDebug)
	child := l.Module("executor")

	child.Info("grew block", "height", 12)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v (raw: %s)", err, buf.String())
	}
	if entry["module"] != "executor" {
		t.Fatalf("module = %v, want executor", entry["module"])
	}
	if entry["msg"] != "grew block" {
		t.Fatalf("msg = %v, want %q", entry["msg"], "grew block")
	}
}

func TestLoggerModuleChain(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, slog.LevelDebug)
	child := l.Module("postman").With("height", 3)

	child.Warn("backlog entry dropped")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v (raw: %s)", err, buf.String())
	}
	if entry["module"] != "postman" {
		t.Fatalf("module = %v, want postman", entry["module"])
	}
	if entry["height"] != float64(3) {
		t.Fatalf("height = %v, want 3", entry["height"])
	}
}
