package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "babaphone-relay", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestTraceQueueOperation_RecordsAttributes(t *testing.T) {
	sr := withRecorder(t)

	_, span := TraceQueueOperation(context.Background(), "signal", "take", "parent-1")
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "signal.take", spans[0].Name())

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "signal", attrs["queue"])
	assert.Equal(t, "parent-1", attrs["device.id"])
}

func TestRecordError_SetsStatus(t *testing.T) {
	sr := withRecorder(t)

	ctx, span := TraceHTTPRequest(context.Background(), "POST", "/api/relay")
	RecordError(ctx, errors.New("device not found"))
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "http.POST", spans[0].Name())
}

func TestTracePush(t *testing.T) {
	sr := withRecorder(t)

	_, span := TracePush(context.Background(), "child-1", 3)
	span.End()

	require.Len(t, sr.Ended(), 1)
	assert.Equal(t, "push.deliver", sr.Ended()[0].Name())
}
