package hnswbridge

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with index-specific helpers.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// WithID adds an id field.
func (l *Logger) WithID(id uint64) *Logger {
	return &Logger{Logger: l.Logger.With("id", id)}
}

// WithK adds a k (neighbor count) field.
func (l *Logger) WithK(k int) *Logger {
	return &Logger{Logger: l.Logger.With("k", k)}
}

// WithDimension adds a dimension field.
func (l *Logger) WithDimension(dim int) *Logger {
	return &Logger{Logger: l.Logger.With("dimension", dim)}
}

// WithCount adds a count field.
func (l *Logger) WithCount(count int) *Logger {
	return &Logger{Logger: l.Logger.With("count", count)}
}

// LogInsert logs an insert operation.
func (l *Logger) LogInsert(ctx context.Context, id uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "insert failed", "id", id, "error", err)
		return
	}
	l.DebugContext(ctx, "insert completed", "id", id)
}

// LogBatchInsert logs a batch insert operation.
func (l *Logger) LogBatchInsert(ctx context.Context, count, inserted int, err error) {
	if err != nil {
		l.WarnContext(ctx, "batch insert stopped",
			"total", count,
			"inserted", inserted,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "batch insert completed", "count", count)
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, k, resultsFound int, bruteforce bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed", "k", k, "bruteforce", bruteforce, "error", err)
		return
	}
	l.DebugContext(ctx, "search completed", "k", k, "bruteforce", bruteforce, "results", resultsFound)
}

// LogSave logs a snapshot write.
func (l *Logger) LogSave(ctx context.Context, name string, bytes int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "save failed", "name", name, "error", err)
		return
	}
	l.InfoContext(ctx, "snapshot saved", "name", name, "bytes", bytes)
}

// LogLoad logs a snapshot read.
func (l *Logger) LogLoad(ctx context.Context, name string, items int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "load failed", "name", name, "error", err)
		return
	}
	l.InfoContext(ctx, "snapshot loaded", "name", name, "items", items)
}

// LogUnload logs index destruction.
func (l *Logger) LogUnload(ctx context.Context, items int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "unload failed", "error", err)
		return
	}
	l.DebugContext(ctx, "index unloaded", "items", items)
}
