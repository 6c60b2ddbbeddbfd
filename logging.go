// logging.go: Pluggable logging with a zerolog-backed production adapter
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hostkit

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Logger defines the pluggable logging interface for the hostkit runtime.
//
// The runtime logs through this interface so hosting processes can plug in
// whatever logging framework they already run. Structured key-value pairs
// are passed as alternating key/value arguments.
//
// Example implementations:
//   - ZerologAdapter: wraps a zerolog.Logger (recommended)
//   - NoOpLogger: silent logger for minimal setups
//   - TestLogger: captures messages for assertions
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, args ...any)

	// Info logs an info message with optional key-value pairs
	Info(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs
	Warn(msg string, args ...any)

	// Error logs an error message with optional key-value pairs
	Error(msg string, args ...any)

	// With returns a new logger with persistent context key-value pairs
	With(args ...any) Logger
}

// NewLogger normalizes a caller-supplied logger value.
//
// Accepted types:
//   - Logger interface: used directly
//   - zerolog.Logger / *zerolog.Logger: wrapped in a ZerologAdapter
//   - nil: NoOpLogger for silent operation
func NewLogger(logger any) Logger {
	switch l := logger.(type) {
	case Logger:
		return l
	case zerolog.Logger:
		return NewZerologAdapter(l)
	case *zerolog.Logger:
		return NewZerologAdapter(*l)
	case nil:
		return NewNoOpLogger()
	default:
		panic("unsupported logger type: expected Logger, zerolog.Logger, or nil")
	}
}

// ZerologAdapter adapts a zerolog.Logger to the hostkit Logger interface.
type ZerologAdapter struct {
	base zerolog.Logger
}

// NewZerologAdapter wraps a zerolog.Logger for use by the runtime.
func NewZerologAdapter(base zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{base: base}
}

// Debug implements Logger
func (z *ZerologAdapter) Debug(msg string, args ...any) {
	z.emit(z.base.Debug(), msg, args)
}

// Info implements Logger
func (z *ZerologAdapter) Info(msg string, args ...any) {
	z.emit(z.base.Info(), msg, args)
}

// Warn implements Logger
func (z *ZerologAdapter) Warn(msg string, args ...any) {
	z.emit(z.base.Warn(), msg, args)
}

// Error implements Logger
func (z *ZerologAdapter) Error(msg string, args ...any) {
	z.emit(z.base.Error(), msg, args)
}

// With implements Logger
func (z *ZerologAdapter) With(args ...any) Logger {
	builder := z.base.With()
	for i := 0; i+1 < len(args); i += 2 {
		builder = builder.Interface(keyString(args[i]), args[i+1])
	}
	return &ZerologAdapter{base: builder.Logger()}
}

func (z *ZerologAdapter) emit(event *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		event = event.Interface(keyString(args[i]), args[i+1])
	}
	event.Msg(msg)
}

func keyString(key any) string {
	if s, ok := key.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", key)
}

// NoOpLogger discards all log messages. Useful for tests and setups where
// the hosting process handles logging elsewhere.
type NoOpLogger struct{}

// NewNoOpLogger creates a new no-operation logger.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// Debug implements Logger interface (no-op)
func (n *NoOpLogger) Debug(msg string, args ...any) {}

// Info implements Logger interface (no-op)
func (n *NoOpLogger) Info(msg string, args ...any) {}

// Warn implements Logger interface (no-op)
func (n *NoOpLogger) Warn(msg string, args ...any) {}

// Error implements Logger interface (no-op)
func (n *NoOpLogger) Error(msg string, args ...any) {}

// With implements Logger interface (no-op)
func (n *NoOpLogger) With(args ...any) Logger {
	return n
}

// DefaultLogger returns the logger used when callers pass nil.
func DefaultLogger() Logger {
	return NewNoOpLogger()
}

// NewConsoleLogger returns a zerolog-backed logger writing human-readable
// output to stderr. The runtime falls back to it when no logger is given.
func NewConsoleLogger() Logger {
	base := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	return NewZerologAdapter(base)
}

// TestLogger captures log messages for test assertions.
type TestLogger struct {
	mu       sync.RWMutex
	Messages []TestLogMessage
}

// TestLogMessage represents a captured log message.
type TestLogMessage struct {
	Level   string
	Message string
	Args    []any
}

// NewTestLogger creates a new capturing logger.
func NewTestLogger() *TestLogger {
	return &TestLogger{Messages: make([]TestLogMessage, 0)}
}

func (t *TestLogger) record(level, msg string, args []any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = append(t.Messages, TestLogMessage{Level: level, Message: msg, Args: args})
}

// Debug implements Logger interface (captures message)
func (t *TestLogger) Debug(msg string, args ...any) { t.record("DEBUG", msg, args) }

// Info implements Logger interface (captures message)
func (t *TestLogger) Info(msg string, args ...any) { t.record("INFO", msg, args) }

// Warn implements Logger interface (captures message)
func (t *TestLogger) Warn(msg string, args ...any) { t.record("WARN", msg, args) }

// Error implements Logger interface (captures message)
func (t *TestLogger) Error(msg string, args ...any) { t.record("ERROR", msg, args) }

// With implements Logger interface (shares the capture buffer)
func (t *TestLogger) With(args ...any) Logger {
	return t
}

// HasMessage checks if the logger captured a message at the given level.
func (t *TestLogger) HasMessage(level, message string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, msg := range t.Messages {
		if msg.Level == level && msg.Message == message {
			return true
		}
	}
	return false
}

// Clear removes all captured messages.
func (t *TestLogger) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = t.Messages[:0]
}
