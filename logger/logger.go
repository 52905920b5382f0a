// Package logger provides a thread-safe, levelled logger backed by zerolog.
//
// The public surface keeps the shape the rest of the adapter was built
// against (New, SetLevel, Info/Infof, Error/Errorf, Debug/Debugf, and a With
// helper for structured fields) while delegating the actual write path and
// level filtering to zerolog's zero-allocation event builder.
package logger

import (
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Level represents a logging verbosity level.
type Level int

const (
	// LevelDebug emits all messages.
	LevelDebug Level = iota
	// LevelInfo emits INFO and ERROR messages.
	LevelInfo
	// LevelError emits only ERROR messages.
	LevelError
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger is a structured, levelled logger.
//
// Thread-safety: the embedded zerolog.Logger is immutable and safe for
// concurrent use by design. SetLevel swaps an atomic level gate so it may be
// called concurrently with logging methods without locking.
type Logger struct {
	zl    zerolog.Logger
	level atomic.Int32
}

// New creates a Logger that writes JSON lines to stderr at the given minimum
// level, with a Unix-seconds timestamp on every event.
func New(level Level) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	l := &Logger{zl: zerolog.New(os.Stderr).With().Timestamp().Logger()}
	l.level.Store(int32(level))
	return l
}

// With returns a child Logger that attaches key to every subsequent event,
// without mutating the receiver. Useful for tagging a logger with a request
// or session identifier at the top of a request handler.
func (l *Logger) With(key string, value string) *Logger {
	child := &Logger{zl: l.zl.With().Str(key, value).Logger()}
	child.level.Store(l.level.Load())
	return child
}

// SetLevel changes the minimum log level at runtime. Safe for concurrent use.
func (l *Logger) SetLevel(level Level) {
	l.level.Store(int32(level))
}

func (l *Logger) enabled(level Level) bool {
	return Level(l.level.Load()) <= level
}

// Info logs a message at INFO level.
func (l *Logger) Info(msg string) {
	if l.enabled(LevelInfo) {
		l.zl.WithLevel(zerolog.InfoLevel).Msg(msg)
	}
}

// Infof logs a formatted message at INFO level.
func (l *Logger) Infof(format string, args ...interface{}) {
	if l.enabled(LevelInfo) {
		l.zl.Info().Msgf(format, args...)
	}
}

// Error logs a message at ERROR level.
func (l *Logger) Error(msg string) {
	if l.enabled(LevelError) {
		l.zl.WithLevel(zerolog.ErrorLevel).Msg(msg)
	}
}

// Errorf logs a formatted message at ERROR level.
func (l *Logger) Errorf(format string, args ...interface{}) {
	if l.enabled(LevelError) {
		l.zl.Error().Msgf(format, args...)
	}
}

// Debug logs a message at DEBUG level.
func (l *Logger) Debug(msg string) {
	if l.enabled(LevelDebug) {
		l.zl.WithLevel(zerolog.DebugLevel).Msg(msg)
	}
}

// Debugf logs a formatted message at DEBUG level.
func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.enabled(LevelDebug) {
		l.zl.Debug().Msgf(format, args...)
	}
}
