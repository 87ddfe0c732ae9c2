package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if root := RootFromContext(ctx); root != "" {
		fields = append(fields, zap.String("sync.root", root))
	}
	if runID := RunIDFromContext(ctx); runID != "" {
		fields = append(fields, zap.String("sync.run_id", runID))
	}

	return fields
}

type rootCtxKey struct{}
type runIDCtxKey struct{}

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// validateID validates a run ID.
func validateID(id, name string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (must be alphanumeric, hyphen, underscore)", name)
	}
	return nil
}

// RootFromContext extracts the tracked root from context.
func RootFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(rootCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithRoot adds the tracked root to context.
// Panics if root is empty or not valid UTF-8.
func WithRoot(ctx context.Context, root string) context.Context {
	if root == "" {
		panic("logging: root cannot be empty")
	}
	if !utf8.ValidString(root) {
		panic("logging: root contains invalid UTF-8")
	}
	return context.WithValue(ctx, rootCtxKey{}, root)
}

// RunIDFromContext extracts the sync run ID from context.
func RunIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(runIDCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithRunID adds a sync run ID to context.
// Panics if runID is empty or contains invalid characters.
func WithRunID(ctx context.Context, runID string) context.Context {
	if err := validateID(runID, "runID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, runIDCtxKey{}, runID)
}

type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
