package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{" warn ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_JSONWithTaskID(t *testing.T) {
	var buf bytes.Buffer
	logger := WithTaskID(New(Options{Level: "info", Writer: &buf}), "task-123")
	logger.Info("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["task_id"] != "task-123" {
		t.Errorf("task_id = %v, want task-123", entry["task_id"])
	}
	if _, ok := entry["source"]; ok {
		t.Error("source should only be attached at debug level")
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	New(Options{Level: "info", Format: "TEXT", Writer: &buf}).Info("hello", "frames", 3)

	line := buf.String()
	if !strings.Contains(line, "msg=hello") || !strings.Contains(line, "frames=3") {
		t.Errorf("text line = %q", line)
	}
}

func TestNew_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "warn", Writer: &buf})
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info line written at warn level: %s", buf.String())
	}
}

func TestWithRequestID_SkipsEmpty(t *testing.T) {
	var buf bytes.Buffer
	base := New(Options{Writer: &buf})
	WithRequestID(base, "").Info("x")
	if strings.Contains(buf.String(), "request_id") {
		t.Errorf("empty request id should not be attached: %s", buf.String())
	}
}

func TestSanitizePath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil || home == "/" {
		t.Skip("no usable home directory")
	}
	sep := string(filepath.Separator)

	if got, want := SanitizePath(filepath.Join(home, "uploads", "clip.mp4")), "~"+sep+filepath.Join("uploads", "clip.mp4"); got != want {
		t.Errorf("SanitizePath() = %q, want %q", got, want)
	}
	if got := SanitizePath(home); got != "~" {
		t.Errorf("SanitizePath(home) = %q, want ~", got)
	}
	sibling := home + "-other" + sep + "clip.mp4"
	if got := SanitizePath(sibling); got != sibling {
		t.Errorf("SanitizePath() rewrote sibling directory: %q", got)
	}
}
