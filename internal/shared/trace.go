// Package shared holds context helpers and redaction used across packages.
package shared

import (
	"context"
	"encoding/hex"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

type ctxKey int

const (
	traceIDKey ctxKey = iota
	taskIDKey
)

// WithTraceID attaches a request trace id to ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID returns the request trace id carried by ctx. Without one it falls
// back to the active span's trace id, then to "-".
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok && v != "" {
		return v
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return "-"
}

// NewTraceID returns 32 lowercase hex characters, the W3C trace-id form, so
// an id echoed in X-Trace-ID can be matched against exported spans.
func NewTraceID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// WithTaskID attaches the id of the task being run.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey, taskID)
}

// TaskID returns the task id carried by ctx, or "".
func TaskID(ctx context.Context) string {
	v, _ := ctx.Value(taskIDKey).(string)
	return v
}
