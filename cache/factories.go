package cache

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"go.uber.org/zap"
)

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NewNoOpLogger returns a Logger that discards everything.
func NewNoOpLogger() Logger {
	return noopLogger{}
}

// ConsoleLogger writes one line per record: "[LEVEL] prefix: msg [args]".
type ConsoleLogger struct {
	mu     sync.Mutex
	out    io.Writer
	prefix string
}

// NewConsoleLogger writes to stdout.
func NewConsoleLogger(prefix string) Logger {
	return NewConsoleLoggerTo(os.Stdout, prefix)
}

// NewConsoleLoggerTo writes to w.
func NewConsoleLoggerTo(w io.Writer, prefix string) Logger {
	return &ConsoleLogger{out: w, prefix: prefix}
}

func (cl *ConsoleLogger) write(level, msg string, args []any) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if len(args) == 0 {
		fmt.Fprintf(cl.out, "[%s] %s: %s\n", level, cl.prefix, msg)
		return
	}
	fmt.Fprintf(cl.out, "[%s] %s: %s %v\n", level, cl.prefix, msg, args)
}

func (cl *ConsoleLogger) Debug(msg string, args ...any) { cl.write("DEBUG", msg, args) }
func (cl *ConsoleLogger) Info(msg string, args ...any)  { cl.write("INFO", msg, args) }
func (cl *ConsoleLogger) Warn(msg string, args ...any)  { cl.write("WARN", msg, args) }
func (cl *ConsoleLogger) Error(msg string, args ...any) { cl.write("ERROR", msg, args) }

// NewSlogLogger adapts a *slog.Logger. A nil logger uses slog.Default().
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return l
}

// ZapLogger adapts a zap sugared logger; args are alternating key/value pairs.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger wraps l. A nil logger is replaced by zap.NewNop().
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapLogger{sugar: l.Sugar()}
}

func (zl *ZapLogger) Debug(msg string, args ...any) { zl.sugar.Debugw(msg, args...) }
func (zl *ZapLogger) Info(msg string, args ...any)  { zl.sugar.Infow(msg, args...) }
func (zl *ZapLogger) Warn(msg string, args ...any)  { zl.sugar.Warnw(msg, args...) }
func (zl *ZapLogger) Error(msg string, args ...any) { zl.sugar.Errorw(msg, args...) }
