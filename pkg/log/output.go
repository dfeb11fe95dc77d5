package log

import (
	"io"
	stdlog "log"
	"os"
	"sync"
)

// Output is a sink for formatted log entries.
type Output interface {
	Write(formatted []byte) error
	Close() error
}

// ConsoleOutput writes entries to a writer serialized by a mutex.
type ConsoleOutput struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleOutput returns an Output writing to stderr.
func NewConsoleOutput() *ConsoleOutput {
	return &ConsoleOutput{w: os.Stderr}
}

// NewWriterOutput returns an Output writing to w.
func NewWriterOutput(w io.Writer) *ConsoleOutput {
	return &ConsoleOutput{w: w}
}

// Write implements Output.
func (o *ConsoleOutput) Write(formatted []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, err := o.w.Write(formatted)
	return err
}

// Close implements Output.
func (o *ConsoleOutput) Close() error { return nil }

// RedirectStdLog routes the standard library's logger (used by Pebble) into l
// at info level.
func RedirectStdLog(l Logger) {
	stdlog.SetFlags(0)
	stdlog.SetOutput(stdWriter{l})
}

type stdWriter struct{ l Logger }

func (w stdWriter) Write(p []byte) (int, error) {
	msg := string(p)
	if n := len(msg); n > 0 && msg[n-1] == '\n' {
		msg = msg[:n-1]
	}
	w.l.Info(msg, Str("source", "stdlog"))
	return len(p), nil
}
