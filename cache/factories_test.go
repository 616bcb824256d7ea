package cache

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNoOpLoggerAcceptsAnything(t *testing.T) {
	logger := NewNoOpLogger()
	logger.Debug("fetch started", "key", "me()")
	logger.Error("fetch failed")
	logger.Warn("odd args", nil)
}

func TestConsoleLogger(t *testing.T) {
	tests := []struct {
		level string
		log   func(Logger, string, ...any)
	}{
		{"DEBUG", Logger.Debug},
		{"INFO", Logger.Info},
		{"WARN", Logger.Warn},
		{"ERROR", Logger.Error},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(NewConsoleLoggerTo(&buf, "wallet"), "entry settled", "key", "getCoins()")

			want := "[" + tt.level + "] wallet: entry settled [key getCoins()]\n"
			if buf.String() != want {
				t.Fatalf("Expected %q, got %q", want, buf.String())
			}
		})
	}
}

func TestConsoleLoggerWithoutArgs(t *testing.T) {
	var buf bytes.Buffer
	NewConsoleLoggerTo(&buf, "wallet").Info("cache reset")

	if buf.String() != "[INFO] wallet: cache reset\n" {
		t.Fatalf("Unexpected output: %q", buf.String())
	}
}

func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	logger.Debug("fetch started", "key", "me()")
	logger.Error("fetch failed", "key", "me()", "error", "boom")

	output := buf.String()
	if !strings.Contains(output, "fetch started") || !strings.Contains(output, "key=me()") {
		t.Errorf("Expected debug record in output, got: %s", output)
	}
	if !strings.Contains(output, "level=ERROR") {
		t.Errorf("Expected error level in output, got: %s", output)
	}
}

func TestSlogLoggerNilUsesDefault(t *testing.T) {
	if NewSlogLogger(nil) == nil {
		t.Fatal("Logger should not be nil")
	}
}

func TestZapLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core))

	logger.Debug("fetch started", "key", "me()")
	logger.Info("fetch fulfilled", "key", "me()")
	logger.Warn("publish failed", "key", "me()")
	logger.Error("fetch failed", "key", "me()")

	if logs.Len() != 4 {
		t.Fatalf("Expected 4 log entries, got %d", logs.Len())
	}

	entry := logs.All()[0]
	if entry.Message != "fetch started" {
		t.Errorf("Expected message 'fetch started', got %s", entry.Message)
	}
	if entry.ContextMap()["key"] != "me()" {
		t.Errorf("Expected key field 'me()', got %v", entry.ContextMap()["key"])
	}
}

func TestZapLoggerNil(t *testing.T) {
	NewZapLogger(nil).Info("no-op")
}
