package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/platinummonkey/tenantguard/pkg/contextkeys"
)

// LogLevel is the minimum severity a Logger writes
type LogLevel = slog.Level

const (
	DebugLevel = slog.LevelDebug
	InfoLevel  = slog.LevelInfo
	WarnLevel  = slog.LevelWarn
	ErrorLevel = slog.LevelError
)

// ParseLevel converts a level name to a LogLevel, defaulting to InfoLevel
func ParseLevel(name string) LogLevel {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warning" {
		return WarnLevel
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return InfoLevel
	}
	return level
}

// Logger writes JSON lines through slog. Loggers are immutable; the With
// methods return a derived logger.
type Logger struct {
	slog *slog.Logger
}

// NewLogger creates a JSON logger writing to output, or stdout when nil
func NewLogger(level LogLevel, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	return &Logger{slog: slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level}))}
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...)}
}

// WithField adds one field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.with(key, value)
}

// WithFields adds fields in key order so lines are stable across runs
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(fields)*2)
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	return l.with(args...)
}

// WithError adds err under "error". A nil error returns l unchanged.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with("error", err.Error())
}

func (l *Logger) Debug(msg string) { l.slog.Debug(msg) }
func (l *Logger) Info(msg string)  { l.slog.Info(msg) }
func (l *Logger) Warn(msg string)  { l.slog.Warn(msg) }
func (l *Logger) Error(msg string) { l.slog.Error(msg) }

func (l *Logger) Infof(format string, args ...interface{}) { l.slog.Info(fmt.Sprintf(format, args...)) }
func (l *Logger) Warnf(format string, args ...interface{}) { l.slog.Warn(fmt.Sprintf(format, args...)) }

var defaultLogger = NewLogger(InfoLevel, os.Stdout)

// WithLogger stores logger in ctx
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return contextkeys.WithLogger(ctx, logger)
}

// GetLogger returns the logger stored in ctx, or a default stdout logger
func GetLogger(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(contextkeys.LoggerKey).(*Logger); ok {
		return logger
	}
	return defaultLogger
}

// requestFields are copied from the context onto request loggers
var requestFields = []struct {
	key string
	get func(context.Context) string
}{
	{"request_id", contextkeys.GetRequestID},
	{"user_id", contextkeys.GetUserID},
	{"tenant_id", contextkeys.GetTenantID},
}

// FromContext returns the context logger tagged with the request, user and
// tenant of the request when they are known
func FromContext(ctx context.Context) *Logger {
	var args []any
	for _, f := range requestFields {
		if v := f.get(ctx); v != "" {
			args = append(args, f.key, v)
		}
	}

	logger := GetLogger(ctx)
	if len(args) == 0 {
		return logger
	}
	return logger.with(args...)
}
