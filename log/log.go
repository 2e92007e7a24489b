// Package log builds the logrus loggers used across ktest.
package log

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

const (
	// TaskKey is the field name carrying the name of the running task.
	TaskKey = "task"
	// HostKey is the field name carrying the remote host of a connection.
	HostKey = "host"
)

// Option configures a logger created by New.
type Option func(*logrus.Logger)

// WithOutput sets the logger output. Colors are disabled unless the writer is a terminal.
func WithOutput(w io.Writer) Option {
	return func(l *logrus.Logger) {
		l.SetOutput(w)
		l.SetFormatter(newFormatter(w))
	}
}

// WithLevel sets the logger level.
func WithLevel(level logrus.Level) Option {
	return func(l *logrus.Logger) {
		l.SetLevel(level)
	}
}

// New creates a logger writing to stderr at info level.
func New(opts ...Option) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(colorable.NewColorableStderr())
	l.SetFormatter(newFormatter(os.Stderr))
	l.SetLevel(logrus.InfoLevel)

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// ParseLevel parses a level name, falling back to info for an empty string.
func ParseLevel(str string) (logrus.Level, error) {
	if str == "" {
		return logrus.InfoLevel, nil
	}

	return logrus.ParseLevel(strings.ToLower(str))
}

// Discard returns a logger that drops everything. Handy as a default.
func Discard() *logrus.Logger {
	return New(WithOutput(io.Discard))
}

// Lines logs every line read from r at info level.
func Lines(l logrus.FieldLogger, r io.Reader) {
	if r == nil {
		return
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		l.Info(strings.TrimRight(scanner.Text(), "\r"))
	}
}

// LineWriter returns a writer logging each written line at info level. Close it to flush the last line.
func LineWriter(l logrus.FieldLogger) io.WriteCloser {
	r, w := io.Pipe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		Lines(l, r)
		_, _ = io.Copy(io.Discard, r)
	}()

	return &lineWriter{PipeWriter: w, done: done}
}

type lineWriter struct {
	*io.PipeWriter
	done chan struct{}
}

func (w *lineWriter) Close() error {
	err := w.PipeWriter.Close()
	<-w.done

	return err
}

func newFormatter(w io.Writer) logrus.Formatter {
	colors := false
	if f, ok := w.(*os.File); ok {
		colors = isatty.IsTerminal(f.Fd())
	}

	return &logrus.TextFormatter{
		DisableColors:    !colors,
		ForceColors:      colors,
		FullTimestamp:    true,
		DisableQuote:     true,
		QuoteEmptyFields: true,
	}
}
