// Package logger provides the structured logger shared by every walletchat component.
package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus logger with a fixed component field.
type Logger struct {
	*logrus.Logger
	component string
}

// Config controls level and output format.
type Config struct {
	Level  string
	Format string
	Output io.Writer
}

// New creates a logger for the named component.
func New(component string, cfg Config) *Logger {
	base := logrus.New()
	if cfg.Output != nil {
		base.SetOutput(cfg.Output)
	} else {
		base.SetOutput(os.Stdout)
	}

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	if strings.EqualFold(cfg.Format, "text") {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		base.SetFormatter(&logrus.JSONFormatter{})
	}

	return &Logger{Logger: base, component: component}
}

// NewDefault creates an info-level JSON logger writing to stdout.
func NewDefault(component string) *Logger {
	return New(component, Config{Level: "info"})
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	return New("discard", Config{Level: "panic", Output: io.Discard})
}

// Named returns a logger sharing the same sink under another component name.
func (l *Logger) Named(component string) *Logger {
	return &Logger{Logger: l.Logger, component: component}
}

// Component returns the component name.
func (l *Logger) Component() string {
	return l.component
}

// WithField starts an entry tagged with the component.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.entry().WithField(key, value)
}

// WithFields starts an entry tagged with the component.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.entry().WithFields(fields)
}

// WithError starts an entry tagged with the component.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.entry().WithError(err)
}

// WithContext attaches the request id carried by ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.entry().WithContext(ctx)
	if id := RequestID(ctx); id != "" {
		entry = entry.WithField("request_id", id)
	}
	return entry
}

func (l *Logger) entry() *logrus.Entry {
	return logrus.NewEntry(l.Logger).WithField("component", l.component)
}

type requestIDKey struct{}

// WithRequestID stores a request id on the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id stored on ctx.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
