package events

import (
	"context"
	"os"
	"sync"

	"github.com/google/uuid"
)

type contextKey int

const (
	loggerKey contextKey = iota
	operationIDKey
	repositoryKey
)

// FromContext extracts logger from context.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return defaultLogger
}

// WithLogger adds logger to context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithOperationID tags the context and its logger with a fresh op_id, or
// keeps the existing one.
func WithOperationID(ctx context.Context) context.Context {
	if GetOperationID(ctx) != "" {
		return ctx
	}

	id := uuid.NewString()
	logger := FromContext(ctx).WithField("op_id", id)
	ctx = context.WithValue(ctx, operationIDKey, id)
	return WithLogger(ctx, logger)
}

// GetOperationID retrieves the operation ID from context.
func GetOperationID(ctx context.Context) string {
	if id, ok := ctx.Value(operationIDKey).(string); ok {
		return id
	}
	return ""
}

// WithRepository adds the repository URL to context.
func WithRepository(ctx context.Context, url string) context.Context {
	logger := FromContext(ctx).WithField("repository", url)
	ctx = context.WithValue(ctx, repositoryKey, url)
	return WithLogger(ctx, logger)
}

// GetRepository retrieves the repository URL from context.
func GetRepository(ctx context.Context) string {
	if url, ok := ctx.Value(repositoryKey).(string); ok {
		return url
	}
	return ""
}

var defaultLogger = &Logger{
	mu:     &sync.Mutex{},
	level:  InfoLevel,
	format: "text",
	output: os.Stderr,
	fields: make(map[string]interface{}),
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	defaultLogger = logger
}
