package observability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func attrMap(kvs []attribute.KeyValue) map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(kvs))
	for _, kv := range kvs {
		m[string(kv.Key)] = kv.Value
	}
	return m
}

func TestScanAndFileSpans(t *testing.T) {
	rec := recordSpans(t)

	ctx, scan := ScanSpan(context.Background(), "scan-1", "policy.xml", []string{"C:/apps"})
	assert.NotEmpty(t, ExtractTraceID(ctx))

	_, file := FileSpan(ctx, "C:/apps/tool.exe")
	RecordStage(file, StageSignatures, attribute.Int("signatures", 2))
	RecordDecision(file, true, "Publisher", "ID_SIGNER_A")
	file.End()

	RecordSummary(scan, 1, 1, 0, 0)
	scan.End()

	spans := rec.Ended()
	require.Len(t, spans, 2)
	fileSpan, scanSpan := spans[0], spans[1]
	assert.Equal(t, "evaluate_file", fileSpan.Name())
	assert.Equal(t, scanSpan.SpanContext().SpanID(), fileSpan.Parent().SpanID())

	attrs := attrMap(fileSpan.Attributes())
	assert.Equal(t, "Publisher", attrs["decision.level"].AsString())
	assert.Equal(t, "ID_SIGNER_A", attrs["decision.signer"].AsString())
	assert.True(t, attrs["decision.authorized"].AsBool())
	require.Len(t, fileSpan.Events(), 1)
	assert.Equal(t, "signatures", fileSpan.Events()[0].Name)

	assert.Equal(t, int64(1), attrMap(scanSpan.Attributes())["scan.files"].AsInt64())
	assert.Equal(t, "scan-1", attrMap(scanSpan.Attributes())["scan.id"].AsString())
}

func TestRecordError(t *testing.T) {
	rec := recordSpans(t)

	_, span := FileSpan(context.Background(), "bad.exe")
	RecordError(span, nil)
	RecordError(span, errors.New("truncated certificate table"))
	span.End()

	got := rec.Ended()[0]
	assert.Equal(t, codes.Error, got.Status().Code)
	assert.Equal(t, "truncated certificate table", got.Status().Description)
}

func TestExtractTraceID_NoSpan(t *testing.T) {
	assert.Empty(t, ExtractTraceID(context.Background()))
}

func TestSetupTracing_Disabled(t *testing.T) {
	prev := otel.GetTracerProvider()
	shutdown, err := SetupTracing(context.Background(), TracingConfig{}, nil)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	assert.Equal(t, prev, otel.GetTracerProvider())
}

func TestInstallProvider(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	exp := tracetest.NewInMemoryExporter()
	shutdown, err := installProvider(TracingConfig{ServiceName: "wdacsim", SampleRate: 1},
		sdktrace.WithSyncer(exp), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	_, span := FileSpan(context.Background(), "x.exe")
	span.End()
	require.NoError(t, shutdown(context.Background()))
	spans := exp.GetSpans()
	require.Len(t, spans, 1)

	res := spans[0].Resource
	assert.Equal(t, resource.Default().SchemaURL(), res.SchemaURL())
	name, ok := res.Set().Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "wdacsim", name.AsString())
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(0).Description())
	assert.Contains(t, sampler(0.5).Description(), "TraceIDRatioBased")
}
