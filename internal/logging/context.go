package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 8)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	for _, k := range correlationKeys {
		if v, ok := ctx.Value(k).(string); ok && v != "" {
			fields = append(fields, zap.String(k.field, v))
		}
	}
	return fields
}

type correlationKey struct{ field string }

var (
	requestKey  = correlationKey{"request.id"}
	projectKey  = correlationKey{"project.id"}
	chatKey     = correlationKey{"chat.id"}
	testRunKey  = correlationKey{"testrun.id"}
	documentKey = correlationKey{"document.id"}

	correlationKeys = []correlationKey{requestKey, projectKey, chatKey, testRunKey, documentKey}
)

// maxIDLen bounds correlation ids copied into every log line.
const maxIDLen = 128

func withID(ctx context.Context, k correlationKey, id string) context.Context {
	if id == "" {
		return ctx
	}
	if len(id) > maxIDLen {
		id = id[:maxIDLen]
	}
	return context.WithValue(ctx, k, id)
}

func idFrom(ctx context.Context, k correlationKey) string {
	v, _ := ctx.Value(k).(string)
	return v
}

// WithRequestID adds the HTTP request id to context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withID(ctx, requestKey, id)
}

// RequestIDFromContext extracts the request id from context.
func RequestIDFromContext(ctx context.Context) string { return idFrom(ctx, requestKey) }

// WithProjectID adds the project id to context.
func WithProjectID(ctx context.Context, id string) context.Context {
	return withID(ctx, projectKey, id)
}

// WithChatID adds the chat id to context.
func WithChatID(ctx context.Context, id string) context.Context {
	return withID(ctx, chatKey, id)
}

// ChatIDFromContext extracts the chat id from context.
func ChatIDFromContext(ctx context.Context) string { return idFrom(ctx, chatKey) }

// WithTestRunID adds the evaluation run id to context.
func WithTestRunID(ctx context.Context, id string) context.Context {
	return withID(ctx, testRunKey, id)
}

// WithDocumentID adds the document id to context.
func WithDocumentID(ctx context.Context, id string) context.Context {
	return withID(ctx, documentKey, id)
}

// loggerCtxKey is the context key for Logger.
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
