package runledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// TraceInfo holds the OTel identifiers extracted from a context.
type TraceInfo struct {
	// TraceID is the W3C trace ID (32 lowercase hex chars).
	// Empty string if no active span is found in the context.
	TraceID string

	// SpanID is the W3C span ID (16 lowercase hex chars).
	SpanID string
}

// ExtractTraceInfo reads the active OpenTelemetry span from ctx and returns
// its trace_id and span_id as hex strings. If the context carries no active
// span (e.g. in unit tests), both fields come back empty — callers handle
// that gracefully.
func ExtractTraceInfo(ctx context.Context) TraceInfo {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return TraceInfo{}
	}
	return TraceInfo{
		TraceID: sc.TraceID().String(),
		SpanID:  sc.SpanID().String(),
	}
}

// NewRun builds a WorkflowRun in its initial state, with trace correlation
// extracted from ctx. An empty runID gets a generated UUID; a caller-
// supplied runID acts as an idempotency key and collisions surface as
// ErrDuplicateRun on insert.
func NewRun(ctx context.Context, briefID, runID string) *WorkflowRun {
	if runID == "" {
		runID = uuid.NewString()
	}
	ti := ExtractTraceInfo(ctx)

	return &WorkflowRun{
		ID:        runID,
		BriefID:   briefID,
		Status:    StatusRunning,
		TraceID:   ti.TraceID,
		SpanID:    ti.SpanID,
		CreatedAt: time.Now().UTC(),
	}
}
