package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestSetup_ReturnsJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf)

	l.Info("dispatch completed", slog.String("canonical_time", "09:00"), slog.Int("sent", 2))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON log output, got error: %v\nraw output: %s", err, buf.String())
	}

	if entry["msg"] != "dispatch completed" {
		t.Errorf("msg = %q, want %q", entry["msg"], "dispatch completed")
	}
	if entry["canonical_time"] != "09:00" {
		t.Errorf("canonical_time = %q, want %q", entry["canonical_time"], "09:00")
	}
	if entry["sent"] != float64(2) {
		t.Errorf("sent = %v, want %v", entry["sent"], 2)
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected 'time' field in JSON log output")
	}
}

func TestSetup_DropsDebug(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf)

	l.Debug("noise")

	if buf.Len() != 0 {
		t.Errorf("expected no output for debug log, got %s", buf.String())
	}
}

func TestSetupWithLevel_Debug(t *testing.T) {
	var buf bytes.Buffer
	l := SetupWithLevel(&buf, slog.LevelDebug)

	l.Debug("visible")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if entry["level"] != "DEBUG" {
		t.Errorf("level = %q, want %q", entry["level"], "DEBUG")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWithRun_AddsRunID(t *testing.T) {
	var buf bytes.Buffer
	l := WithRun(Setup(&buf), "run-1")

	l.Info("outcome")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if entry["run_id"] != "run-1" {
		t.Errorf("run_id = %q, want %q", entry["run_id"], "run-1")
	}
}

func TestSetupDefault_SetsGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	t.Setenv("LOG_LEVEL", "")
	SetupDefault(&buf)

	slog.Default().Info("global test", slog.String("test_key", "test_val"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v\nraw: %s", err, buf.String())
	}

	if entry["msg"] != "global test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "global test")
	}
	if entry["test_key"] != "test_val" {
		t.Errorf("test_key = %q, want %q", entry["test_key"], "test_val")
	}
}
