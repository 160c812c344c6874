package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the OpenTelemetry tracer name.
	TracerName = "wdacsim"
)

// Stage names a step of a file evaluation recorded as a span event.
type Stage string

const (
	StageHash       Stage = "hash"
	StageSignatures Stage = "signatures"
	StageVersion    Stage = "version_info"
	StageArbitrate  Stage = "arbitrate"
)

// String returns the string representation of the stage.
func (s Stage) String() string {
	return string(s)
}

// ScanSpan starts the root span of a scan.
func ScanSpan(ctx context.Context, scanID, policyPath string, roots []string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "scan",
		trace.WithAttributes(
			attribute.String("scan.id", scanID),
			attribute.String("policy.path", policyPath),
			attribute.StringSlice("scan.roots", roots),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// FileSpan starts a child span for one file evaluation.
func FileSpan(ctx context.Context, path string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "evaluate_file",
		trace.WithAttributes(attribute.String("file.path", path)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// RecordStage adds a stage event to the span.
func RecordStage(span trace.Span, stage Stage, attrs ...attribute.KeyValue) {
	span.AddEvent(stage.String(), trace.WithAttributes(attrs...))
}

// RecordDecision records the authorization outcome on a span.
func RecordDecision(span trace.Span, authorized bool, level, signerID string) {
	span.SetAttributes(
		attribute.Bool("decision.authorized", authorized),
		attribute.String("decision.level", level),
	)
	if signerID != "" {
		span.SetAttributes(attribute.String("decision.signer", signerID))
	}
}

// RecordSummary records scan totals on the scan span.
func RecordSummary(span trace.Span, total, allowed, blocked, failed int) {
	span.SetAttributes(
		attribute.Int("scan.files", total),
		attribute.Int("scan.allowed", allowed),
		attribute.Int("scan.blocked", blocked),
		attribute.Int("scan.errors", failed),
	)
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// ExtractTraceID extracts the trace ID from a context.
func ExtractTraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
