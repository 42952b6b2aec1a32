package telemetry

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"
)

// ContextHandler is a slog.Handler that extracts TraceID and SpanID from
// the context and adds them as attributes to every log record, so log
// lines can be joined with the distributed trace.
type ContextHandler struct {
	slog.Handler
}

// Handle adds tracing context attributes before calling the underlying handler.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		r.AddAttrs(slog.String("trace_id", sc.TraceID().String()))
	}
	if sc.HasSpanID() {
		r.AddAttrs(slog.String("span_id", sc.SpanID().String()))
	}
	return h.Handler.Handle(ctx, r)
}

// NewContextHandler returns a slog.Handler that decorates logs with tracing IDs.
func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

// InitLogger installs the global slog logger: JSON to stderr, decorated
// with tracing context.
func InitLogger() {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(NewContextHandler(handler)))
}
