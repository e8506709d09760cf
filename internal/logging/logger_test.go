package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLoggerDefaultConfig(t *testing.T) {
	logger := NewLogger(nil)
	if logger == nil {
		t.Fatal("NewLogger(nil) returned nil")
	}
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Debug("debug message", "key", "value")
	logger.Info("info message")
	logger.Warn("warning message")
	logger.Error("error message")

	out := buf.String()
	for _, want := range []string{"debug message", "info message", "warning message", "error message"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got: %s", want, out)
		}
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("hidden debug")
	logger.Info("hidden info")
	logger.Warn("visible warn")

	out := buf.String()
	if strings.Contains(out, "hidden debug") || strings.Contains(out, "hidden info") {
		t.Errorf("expected debug/info to be filtered out, got: %s", out)
	}
	if !strings.Contains(out, "visible warn") {
		t.Errorf("expected warn message present, got: %s", out)
	}
}

func TestLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelInfo, Output: &buf})

	child := logger.With("side", "parent")
	child.Info("dispatching")

	out := buf.String()
	if !strings.Contains(out, "dispatching") {
		t.Errorf("expected message present, got: %s", out)
	}
	if !strings.Contains(out, "side") || !strings.Contains(out, "parent") {
		t.Errorf("expected attached field in output, got: %s", out)
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))
	defer SetDefault(NewLogger(nil))

	Debug("debug message", "key", "value")
	Info("info message")
	Warn("warning message")
	Error("error message")

	out := buf.String()
	for _, want := range []string{"debug message", "info message", "warning message", "error message"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got: %s", want, out)
		}
	}
}
