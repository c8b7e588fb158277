package metrics

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LevelSilent, "SILENT"},
	}

	for _, tt := range tests {
		if tt.level.String() != tt.expected {
			t.Errorf("expected %q, got %q", tt.expected, tt.level.String())
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"DEBUG", LevelDebug},
		{"debug", LevelDebug},
		{" info ", LevelInfo},
		{"WARNING", LevelWarn},
		{"ERROR", LevelError},
		{"off", LevelSilent},
		{"invalid", LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLevel(%q) = %v, expected %v", tt.input, got, tt.expected)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if ParseFormat("JSON") != FormatJSON {
		t.Error("JSON not parsed")
	}
	if ParseFormat("console") != FormatText {
		t.Error("unknown format should be text")
	}
}

// observed returns a logger writing to an in-memory zap core.
func observed(level Level, opts ...LoggerOption) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	opts = append([]LoggerOption{WithCore(core), WithLevel(level)}, opts...)
	return NewLogger(opts...), logs
}

func TestLoggerLevelFiltering(t *testing.T) {
	logger, logs := observed(LevelWarn)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	entries := logs.AllUntimed()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Message != "warn message" || entries[0].Level != zapcore.WarnLevel {
		t.Errorf("first entry %+v", entries[0].Entry)
	}
	if entries[1].Level != zapcore.ErrorLevel {
		t.Errorf("second entry level %v", entries[1].Level)
	}
}

func TestLoggerSilentLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf), WithLevel(LevelSilent))

	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")

	if buf.Len() > 0 {
		t.Errorf("silent logger wrote %q", buf.String())
	}
	if logger.Enabled(LevelError) {
		t.Error("silent logger reports error enabled")
	}
}

func TestLoggerFields(t *testing.T) {
	logger, logs := observed(LevelDebug, WithFields(Fields{"service": "kex"}))
	cause := errors.New("boom")

	logger.With(Fields{"session_id": "abc"}).Info("test", Fields{"b": 2}, Fields{"error": cause})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["service"] != "kex" || ctx["session_id"] != "abc" {
		t.Errorf("context %v", ctx)
	}
	if ctx["b"] != int64(2) {
		t.Errorf("b = %#v", ctx["b"])
	}
	if ctx["error"] != "boom" {
		t.Errorf("error = %#v", ctx["error"])
	}
}

func TestLoggerNamedSharesLevel(t *testing.T) {
	logger, logs := observed(LevelError, WithName("parent"))
	child := logger.Named("child")

	child.Info("dropped")
	logger.SetLevel(LevelInfo)
	child.Info("kept")

	entries := logs.AllUntimed()
	if len(entries) != 1 || entries[0].Message != "kept" {
		t.Fatalf("entries %+v", entries)
	}
	if entries[0].LoggerName != "parent.child" {
		t.Errorf("logger name %q", entries[0].LoggerName)
	}
}

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := ProductionLogger(&buf).Named("kex")

	logger.Info("test message", Fields{"key": "value"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON %q: %v", buf.String(), err)
	}
	if entry["level"] != "info" {
		t.Errorf("level %v", entry["level"])
	}
	if entry["msg"] != "test message" || entry["key"] != "value" || entry["logger"] != "kex" {
		t.Errorf("entry %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected time field")
	}
}

func TestLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf), WithLevel(LevelDebug))

	logger.Info("test message", Fields{"zebra": 1, "apple": 2})

	out := buf.String()
	if !strings.Contains(out, "INFO") || !strings.Contains(out, "test message") {
		t.Errorf("output %q", out)
	}
	if a, z := strings.Index(out, "apple"), strings.Index(out, "zebra"); a < 0 || a > z {
		t.Errorf("fields not sorted: %q", out)
	}
}

func TestNullLogger(t *testing.T) {
	logger := NewNullLogger()
	logger.Info("test")
	logger.With(Fields{"a": 1}).Named("x").Error("test")
	if logger.Enabled(LevelError) {
		t.Error("null logger enabled")
	}
}

func TestGlobalLogger(t *testing.T) {
	prev := GetLogger()
	defer SetLogger(prev)

	logger, logs := observed(LevelDebug)
	SetLogger(logger)
	Info("global test")

	if logs.FilterMessage("global test").Len() != 1 {
		t.Error("expected message from global logger")
	}
}
