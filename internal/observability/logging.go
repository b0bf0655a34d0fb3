// Package observability provides structured logging and Prometheus metrics
// for the forge server.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Logger wraps slog with session correlation and redaction of sensitive
// values (API keys, tokens, passwords) before they reach the log stream.
type Logger struct {
	logger  *slog.Logger
	redacts []*regexp.Regexp
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level is the minimum level: "debug", "info", "warn", "error".
	Level string

	// Format is "json" (production) or "text" (development).
	Format string

	// Output defaults to os.Stdout.
	Output io.Writer

	// RedactPatterns are extra regexes applied on top of the defaults.
	RedactPatterns []string
}

type contextKey string

// SessionIDKey carries the session id through request contexts.
const SessionIDKey contextKey = "session_id"

// TurnIDKey carries the current turn id through request contexts.
const TurnIDKey contextKey = "turn_id"

var defaultRedactPatterns = []string{
	`sk-ant-[a-zA-Z0-9_-]{20,}`,
	`(?i)(api[_-]?key|token|secret|password)[\s:=]+["']?([^\s"']{8,})["']?`,
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
}

// NewLogger creates a structured logger. Invalid or empty level defaults to
// info, empty format to json.
func NewLogger(cfg LogConfig) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}

	redacts := make([]*regexp.Regexp, 0, len(defaultRedactPatterns)+len(cfg.RedactPatterns))
	for _, pattern := range append(append([]string{}, defaultRedactPatterns...), cfg.RedactPatterns...) {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}

	return &Logger{logger: slog.New(handler), redacts: redacts}
}

// WithFields returns a logger with the given attributes on every record.
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...), redacts: l.redacts}
}

// Debug logs at debug level with optional key-value pairs.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

// Info logs at info level with optional key-value pairs.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}

// Warn logs at warn level with optional key-value pairs.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}

// Error logs at error level with optional key-value pairs.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	attrs := make([]any, 0, len(args)+4)
	if id, ok := ctx.Value(SessionIDKey).(string); ok && id != "" {
		attrs = append(attrs, "session_id", id)
	}
	if id, ok := ctx.Value(TurnIDKey).(string); ok && id != "" {
		attrs = append(attrs, "turn_id", id)
	}
	for _, arg := range args {
		attrs = append(attrs, l.redactValue(arg))
	}
	l.logger.Log(ctx, level, l.redactString(msg), attrs...)
}

func (l *Logger) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return l.redactString(val)
	case error:
		return l.redactString(val.Error())
	case []byte:
		return l.redactString(string(val))
	default:
		return v
	}
}

func (l *Logger) redactString(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// WithSessionID returns a context carrying the session id for log correlation.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// WithTurnID returns a context carrying the turn id for log correlation.
func WithTurnID(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, TurnIDKey, turnID)
}

// SessionID retrieves the session id from the context, if any.
func SessionID(ctx context.Context) string {
	if id, ok := ctx.Value(SessionIDKey).(string); ok {
		return id
	}
	return ""
}
