package shared

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}
type surfaceIDKey struct{}

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID generates a new trace_id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithSurfaceID attaches the id of the mounted surface (one per page load).
func WithSurfaceID(ctx context.Context, surfaceID string) context.Context {
	return context.WithValue(ctx, surfaceIDKey{}, surfaceID)
}

// SurfaceID extracts surface_id from context. Returns "" if absent.
func SurfaceID(ctx context.Context) string {
	if v, ok := ctx.Value(surfaceIDKey{}).(string); ok {
		return v
	}
	return ""
}
