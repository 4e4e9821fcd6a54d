package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
)

func TestNew_Outputs(t *testing.T) {
	for _, output := range []string{"stdout", "stderr", "discard", ""} {
		for _, format := range []string{"json", "text"} {
			logger := New(config.LoggingConfig{Level: "debug", Format: format, Output: output}, "1.0.0")
			if logger == nil || logger.Level() != slog.LevelDebug {
				t.Errorf("New(%s, %s) = %+v", output, format, logger)
			}
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"unknown": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for input, want := range tests {
		if got := parseLevel(input); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestDefault(t *testing.T) {
	if got := Default().Level(); got != slog.LevelInfo {
		t.Errorf("Default().Level() = %v, want info", got)
	}
}

func TestNewWithWriter_DefaultFields(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "test", &buf)
	logger.Info("test message", "key", "value")

	var logEntry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}

	if logEntry["service"] != ServiceName {
		t.Errorf("expected service=%q, got %v", ServiceName, logEntry["service"])
	}
	if logEntry["version"] != "test" {
		t.Errorf("expected version='test', got %v", logEntry["version"])
	}
	if logEntry["msg"] != "test message" {
		t.Errorf("expected msg='test message', got %v", logEntry["msg"])
	}
	if logEntry["key"] != "value" {
		t.Errorf("expected key='value', got %v", logEntry["key"])
	}
}

func TestNewWithWriter_LevelFilter(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(config.LoggingConfig{Level: "warn", Format: "text"}, "test", &buf)
	logger.Info("hidden")
	logger.Warn("shown")

	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Error("info entry written at warn level")
	}
	if !strings.Contains(output, "shown") || !strings.Contains(output, "service="+ServiceName) {
		t.Errorf("unexpected text output: %q", output)
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	logger.Error("dropped")
}

func TestParseLevel_Unknown(t *testing.T) {
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("ParseLevel(verbose) should fail")
	}
	if level, err := ParseLevel("Warning"); err != nil || level != slog.LevelWarn {
		t.Errorf("ParseLevel(Warning) = %v, %v", level, err)
	}
}

func TestLogger_SetLevelSharedWithChildren(t *testing.T) {
	var buf bytes.Buffer

	logger := NewWithWriter(config.LoggingConfig{Level: "info", Format: "text"}, "test", &buf)
	child := logger.With("component", "journal")

	child.Debug("before")
	if err := logger.SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel() error = %v", err)
	}
	child.Debug("after")

	output := buf.String()
	if strings.Contains(output, "before") {
		t.Error("debug entry written at info level")
	}
	if !strings.Contains(output, "after") || !strings.Contains(output, "component=journal") {
		t.Errorf("unexpected text output: %q", output)
	}
	if child.Level() != slog.LevelDebug {
		t.Errorf("child Level() = %v, want debug", child.Level())
	}

	if err := logger.SetLevel("loud"); err == nil {
		t.Error("SetLevel(loud) should fail")
	}
	if logger.Level() != slog.LevelDebug {
		t.Error("failed SetLevel changed the level")
	}
}
