// Package logging provides structured logging for the indexer and query
// engine.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	pathKey    contextKey = "path"
	maildirKey contextKey = "maildir"
)

// Logger wraps slog with gomu-specific functionality.
type Logger struct {
	*slog.Logger
}

// Config configures the logger.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// Format is the output format (json, text).
	Format string
	// Output is the output destination (stdout, stderr, or file path).
	Output string
	// AddSource adds source code location to log entries.
	AddSource bool
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
		Output: "stderr",
	}
}

// New creates a new Logger with the given configuration.
func New(cfg Config) (*Logger, error) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var output io.Writer
	switch cfg.Output {
	case "stderr", "":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		output = f
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339Nano))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	return &Logger{Logger: slog.New(handler)}, nil
}

// Default returns a default logger (info level, JSON, stderr).
func Default() *Logger {
	l, _ := New(DefaultConfig())
	return l
}

// WithTraceID returns a new context carrying a run identifier, used to
// correlate all log lines from a single indexer run.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithPath returns a new context carrying a message path, attached to
// per-file parse errors.
func WithPath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, pathKey, path)
}

// WithMaildir returns a new context carrying a relative maildir name.
func WithMaildir(ctx context.Context, maildir string) context.Context {
	return context.WithValue(ctx, maildirKey, maildir)
}

func extractContextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if v := ctx.Value(traceIDKey); v != nil {
		attrs = append(attrs, slog.String("trace_id", v.(string)))
	}
	if v := ctx.Value(pathKey); v != nil {
		attrs = append(attrs, slog.String("path", v.(string)))
	}
	if v := ctx.Value(maildirKey); v != nil {
		attrs = append(attrs, slog.String("maildir", v.(string)))
	}
	return attrs
}

func (l *Logger) attrArgs(ctx context.Context, args []any) []any {
	attrs := extractContextAttrs(ctx)
	all := make([]any, 0, len(attrs)*2+len(args))
	for _, a := range attrs {
		all = append(all, a.Key, a.Value.Any())
	}
	return append(all, args...)
}

// InfoContext logs an info message with context-scoped fields attached.
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.Logger.InfoContext(ctx, msg, l.attrArgs(ctx, args)...)
}

// ErrorContext logs an error message with context-scoped fields attached.
func (l *Logger) ErrorContext(ctx context.Context, msg string, err error, args ...any) {
	if err != nil {
		args = append([]any{"error", err.Error()}, args...)
	}
	l.Logger.ErrorContext(ctx, msg, l.attrArgs(ctx, args)...)
}

// WarnContext logs a warning message with context-scoped fields attached.
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.Logger.WarnContext(ctx, msg, l.attrArgs(ctx, args)...)
}

// DebugContext logs a debug message with context-scoped fields attached.
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.Logger.DebugContext(ctx, msg, l.attrArgs(ctx, args)...)
}

// WithError returns a logger with the error attached.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{Logger: l.Logger.With("error", err.Error())}
}

// WithFields returns a logger with additional fields bound.
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Indexer returns a logger scoped to indexer pipeline components.
func (l *Logger) Indexer() *Logger {
	return &Logger{Logger: l.Logger.With("component", "indexer")}
}

// Store returns a logger scoped to store operations.
func (l *Logger) Store() *Logger {
	return &Logger{Logger: l.Logger.With("component", "store")}
}

// Query returns a logger scoped to query execution.
func (l *Logger) Query() *Logger {
	return &Logger{Logger: l.Logger.With("component", "query")}
}

// Caller adds caller information to the log entry.
func (l *Logger) Caller() *Logger {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		return l
	}
	return &Logger{
		Logger: l.Logger.With("caller", slog.GroupValue(
			slog.String("file", file),
			slog.Int("line", line),
		)),
	}
}
