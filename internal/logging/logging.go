// Package logging wraps logrus with the request-scoped fields used across
// the settlement services.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextKey string

const (
	TraceIDKey contextKey = "trace_id"
	UserIDKey  contextKey = "user_id"
	RoleKey    contextKey = "role"
)

// Config controls logger construction.
type Config struct {
	Level  string
	Format string
	Output string
}

// Logger is a component-scoped logrus logger.
type Logger struct {
	*logrus.Logger
	component string
}

// New creates a logger for component with the given level and format
// ("json" or "text").
func New(component, level, format string) *Logger {
	return NewWithConfig(component, Config{Level: level, Format: format})
}

// NewWithConfig creates a logger from cfg. Output may be "stdout", "stderr"
// or a file path; unknown values fall back to stdout.
func NewWithConfig(component string, cfg Config) *Logger {
	base := logrus.New()

	lvl, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base.SetLevel(lvl)

	if strings.EqualFold(cfg.Format, "text") {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	} else {
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}

	base.SetOutput(openOutput(cfg.Output))

	return &Logger{Logger: base, component: component}
}

// NewDefault creates an info-level JSON logger.
func NewDefault(component string) *Logger {
	return New(component, "info", "json")
}

// NewDiscard returns a logger that drops everything, for tests.
func NewDiscard() *Logger {
	l := New("test", "panic", "json")
	l.SetOutput(io.Discard)
	return l
}

func openOutput(output string) io.Writer {
	switch strings.ToLower(output) {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return os.Stdout
	}
	return f
}

// Component returns the component name attached to every entry.
func (l *Logger) Component() string {
	return l.component
}

func (l *Logger) entry() *logrus.Entry {
	return l.Logger.WithField("component", l.component)
}

// WithContext returns an entry carrying the trace and actor ids found in ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	e := l.entry().WithContext(ctx)
	if traceID := GetTraceID(ctx); traceID != "" {
		e = e.WithField("trace_id", traceID)
	}
	if userID := GetUserID(ctx); userID != "" {
		e = e.WithField("user_id", userID)
	}
	return e
}

func (l *Logger) WithError(err error) *logrus.Entry {
	return l.entry().WithError(err)
}

func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.entry().WithField(key, value)
}

func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.entry().WithFields(fields)
}

// LogRequest records one served HTTP request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	e := l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	})
	switch {
	case status >= 500:
		e.Error("request failed")
	case status >= 400:
		e.Warn("request rejected")
	default:
		e.Info("request served")
	}
}

// LogSecurityEvent records authentication and throttling events.
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, fields map[string]interface{}) {
	l.WithContext(ctx).WithField("security_event", event).WithFields(fields).Warn("security event")
}

// NewTraceID returns a fresh trace id.
func NewTraceID() string {
	return uuid.NewString()
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, RoleKey, role)
}

func GetRole(ctx context.Context) string {
	v, _ := ctx.Value(RoleKey).(string)
	return v
}
