package localvec

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with localvec-specific context.
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

	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithCollection adds a collection field to the logger.
func (l *Logger) WithCollection(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("collection", name),
	}
}

// WithID adds a document id field to the logger.
func (l *Logger) WithID(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("id", id),
	}
}

// WithK adds a k (neighbor count) field to the logger.
func (l *Logger) WithK(k int) *Logger {
	return &Logger{
		Logger: l.Logger.With("k", k),
	}
}

// WithDimension adds a dimension field to the logger.
func (l *Logger) WithDimension(dim int) *Logger {
	return &Logger{
		Logger: l.Logger.With("dimension", dim),
	}
}

// WithCount adds a count field to the logger.
func (l *Logger) WithCount(count int) *Logger {
	return &Logger{
		Logger: l.Logger.With("count", count),
	}
}

// LogAdd logs an add operation.
func (l *Logger) LogAdd(ctx context.Context, collection, id string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "add failed",
			"collection", collection,
			"id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "add completed",
			"collection", collection,
			"id", id,
		)
	}
}

// LogBatchAdd logs a batch add operation.
func (l *Logger) LogBatchAdd(ctx context.Context, collection string, count, failed int) {
	if failed > 0 {
		l.WarnContext(ctx, "batch add completed with failures",
			"collection", collection,
			"total", count,
			"failed", failed,
			"success", count-failed,
		)
	} else {
		l.InfoContext(ctx, "batch add completed",
			"collection", collection,
			"count", count,
		)
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, collection string, k, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"collection", collection,
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"collection", collection,
			"k", k,
			"results", resultsFound,
		)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, collection string, deleted int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"collection", collection,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"collection", collection,
			"deleted", deleted,
		)
	}
}

// LogUpdate logs an update operation.
func (l *Logger) LogUpdate(ctx context.Context, collection, id string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "update failed",
			"collection", collection,
			"id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "update completed",
			"collection", collection,
			"id", id,
		)
	}
}

// LogIndexPersist logs writing the index blob.
func (l *Logger) LogIndexPersist(ctx context.Context, collection string, nodes, bytes int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "index persist failed",
			"collection", collection,
			"nodes", nodes,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "index persisted",
			"collection", collection,
			"nodes", nodes,
			"bytes", bytes,
		)
	}
}

// LogRecovery logs a WAL reconciliation.
func (l *Logger) LogRecovery(ctx context.Context, collection string, entriesReconciled int, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, "WAL recovery failed",
			"collection", collection,
			"entries_reconciled", entriesReconciled,
			"error", err,
		)
	case entriesReconciled > 0:
		l.InfoContext(ctx, "WAL recovery completed",
			"collection", collection,
			"entries_reconciled", entriesReconciled,
		)
	}
}

// LogMigration logs the schema version a backend was opened at.
func (l *Logger) LogMigration(ctx context.Context, backend string, version int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "storage open failed",
			"backend", backend,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "storage opened",
			"backend", backend,
			"schema_version", version,
		)
	}
}
