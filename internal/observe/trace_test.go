package observe

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newTestTracerProvider returns a TracerProvider with an in-memory exporter
// for inspecting recorded spans.
func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

// captureLogs routes the default logger into a buffer for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationID_EmptyByDefault(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
}

func TestStartSpan_CreatesSpan(t *testing.T) {
	tp, exp := newTestTracerProvider(t)

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	ctx, span := StartSpan(context.Background(), "session.open")
	if cid := CorrelationID(ctx); len(cid) != 32 {
		t.Errorf("correlation ID = %q, want 32 hex chars", cid)
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "session.open" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "session.open")
	}
}

func TestSessionID_RoundTrip(t *testing.T) {
	ctx := WithSessionID(context.Background(), "abc-123")
	if got := SessionID(ctx); got != "abc-123" {
		t.Errorf("SessionID = %q, want abc-123", got)
	}
	if got := SessionID(context.Background()); got != "" {
		t.Errorf("SessionID(background) = %q, want empty", got)
	}
}

func TestLogger_IncludesSessionAndTrace(t *testing.T) {
	tp, _ := newTestTracerProvider(t)
	buf := captureLogs(t)

	ctx, span := tp.Tracer("test").Start(WithSessionID(context.Background(), "s-1"), "log-test")
	defer span.End()

	Logger(ctx).Info("test message")

	logged := buf.String()
	for _, want := range []string{"session_id=s-1", "trace_id=", "span_id="} {
		if !bytes.Contains([]byte(logged), []byte(want)) {
			t.Errorf("log output missing %q, got: %s", want, logged)
		}
	}
}

func TestLogger_NoContext(t *testing.T) {
	buf := captureLogs(t)

	Logger(context.Background()).Info("test message")

	logged := buf.String()
	if bytes.Contains([]byte(logged), []byte("trace_id")) || bytes.Contains([]byte(logged), []byte("session_id")) {
		t.Errorf("log output should carry no context attributes, got: %s", logged)
	}
}
