// Package logging provides subsystem-tagged structured logging on top of
// log/slog, with an optional redaction hook so secret material registered
// with the sanitizer never reaches the output stream.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
)

// LogLevel defines the severity of the log entry.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String makes LogLevel satisfy the fmt.Stringer interface.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel maps a level name to a LogLevel. Unknown names fall back to
// LevelInfo. "warning" and "critical" are accepted for compatibility with
// the CREDPROXY_LOG_LEVEL environment variable.
func ParseLevel(name string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error", "critical":
		return LevelError
	default:
		return LevelInfo
	}
}

// Redactor rewrites a message before it is emitted. The sanitize package
// provides the production implementation.
type Redactor interface {
	Redact(text string) string
}

var (
	defaultLogger atomic.Pointer[slog.Logger]
	redactor      atomic.Pointer[Redactor]
)

// Init initializes the logger. This should be called once at application
// startup, before any component starts logging.
func Init(level LogLevel, output io.Writer) {
	opts := &slog.HandlerOptions{
		Level: level.SlogLevel(),
	}
	logger := slog.New(slog.NewTextHandler(output, opts))
	defaultLogger.Store(logger)
	slog.SetDefault(logger)
}

// SetRedactor installs the redaction hook applied to every message and
// error string before emission.
func SetRedactor(r Redactor) {
	redactor.Store(&r)
}

func logInternal(level LogLevel, subsystem string, err error, messageFmt string, args ...interface{}) {
	logger := defaultLogger.Load()
	if logger == nil || !logger.Enabled(context.Background(), level.SlogLevel()) {
		return
	}

	msg := messageFmt
	if len(args) > 0 {
		msg = fmt.Sprintf(messageFmt, args...)
	}

	errText := ""
	if err != nil {
		errText = err.Error()
	}
	if r := redactor.Load(); r != nil {
		msg = (*r).Redact(msg)
		if errText != "" {
			errText = (*r).Redact(errText)
		}
	}

	attrs := []slog.Attr{slog.String("subsystem", subsystem)}
	if errText != "" {
		attrs = append(attrs, slog.String("error", errText))
	}

	logger.LogAttrs(context.Background(), level.SlogLevel(), msg, attrs...)
}

// Debug logs a debug message.
func Debug(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelDebug, subsystem, nil, messageFmt, args...)
}

// Info logs an informational message.
func Info(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelInfo, subsystem, nil, messageFmt, args...)
}

// Warn logs a warning message.
func Warn(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelWarn, subsystem, nil, messageFmt, args...)
}

// Error logs an error message.
func Error(subsystem string, err error, messageFmt string, args ...interface{}) {
	logInternal(LevelError, subsystem, err, messageFmt, args...)
}
