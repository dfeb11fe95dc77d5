// Package log provides structured logging for riven components.
package log

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Level represents the severity of a log message.
type Level int

// Log levels, ordered by severity.
const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name; it accepts any case.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("log: unknown level %q", s)
	}
}

// Entry is a single log record handed to a Formatter.
type Entry struct {
	Level     Level
	Message   string
	Fields    []Field
	Timestamp time.Time
}

// Logger is the logging interface passed to riven components.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a Logger that attaches the given fields to every entry.
	With(fields ...Field) Logger

	SetLevel(level Level)
	GetLevel() Level
}

// Option configures a logger built by NewLogger.
type Option func(*BaseLogger)

// BaseLogger implements Logger over a Formatter and an Output.
type BaseLogger struct {
	level  Level
	fields []Field
	fmtr   Formatter
	out    Output
	now    func() time.Time
}

// NewLogger creates a logger. Defaults: InfoLevel, text format, stderr output.
func NewLogger(options ...Option) Logger {
	l := &BaseLogger{
		level: InfoLevel,
		fmtr:  &TextFormatter{},
		now:   time.Now,
	}
	for _, opt := range options {
		opt(l)
	}
	if l.out == nil {
		l.out = NewConsoleOutput()
	}
	return l
}

// WithLevel sets the minimum level emitted.
func WithLevel(level Level) Option {
	return func(l *BaseLogger) { l.level = level }
}

// WithFormatter sets the entry formatter.
func WithFormatter(f Formatter) Option {
	return func(l *BaseLogger) { l.fmtr = f }
}

// WithOutput sets the output sink.
func WithOutput(o Output) Option {
	return func(l *BaseLogger) { l.out = o }
}

// FromEnv builds a logger from RIVEN_LOG_LEVEL / RIVEN_LOG_FORMAT.
func FromEnv() Logger {
	lvl, err := ParseLevel(os.Getenv("RIVEN_LOG_LEVEL"))
	if err != nil {
		lvl = InfoLevel
	}
	var f Formatter = &TextFormatter{}
	if strings.EqualFold(os.Getenv("RIVEN_LOG_FORMAT"), "json") {
		f = &JSONFormatter{}
	}
	return NewLogger(WithLevel(lvl), WithFormatter(f))
}

func (l *BaseLogger) Debug(msg string, fields ...Field) { l.emit(DebugLevel, msg, fields) }
func (l *BaseLogger) Info(msg string, fields ...Field)  { l.emit(InfoLevel, msg, fields) }
func (l *BaseLogger) Warn(msg string, fields ...Field)  { l.emit(WarnLevel, msg, fields) }
func (l *BaseLogger) Error(msg string, fields ...Field) { l.emit(ErrorLevel, msg, fields) }

// With returns a child logger sharing level, formatter, and output.
func (l *BaseLogger) With(fields ...Field) Logger {
	child := &BaseLogger{
		level: l.level,
		fmtr:  l.fmtr,
		out:   l.out,
		now:   l.now,
	}
	child.fields = append(append([]Field(nil), l.fields...), fields...)
	return child
}

func (l *BaseLogger) SetLevel(level Level) { l.level = level }
func (l *BaseLogger) GetLevel() Level      { return l.level }

func (l *BaseLogger) emit(level Level, msg string, fields []Field) {
	if level < l.level {
		return
	}
	entry := &Entry{
		Level:     level,
		Message:   msg,
		Timestamp: l.now(),
	}
	if len(l.fields) > 0 || len(fields) > 0 {
		entry.Fields = append(append([]Field(nil), l.fields...), fields...)
	}
	b, err := l.fmtr.Format(entry)
	if err != nil {
		return
	}
	_ = l.out.Write(b)
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() Logger {
	return NewLogger(WithLevel(ErrorLevel+1), WithOutput(nopOutput{}))
}

type nopOutput struct{}

func (nopOutput) Write([]byte) error { return nil }
func (nopOutput) Close() error       { return nil }
