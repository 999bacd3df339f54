package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewProviderDisabled(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{Enabled: false, ExporterType: "grpc"})
	require.NoError(t, err)
	assert.Nil(t, provider.tp)

	_, span := otel.Tracer("test").Start(context.Background(), "noop-check")
	assert.False(t, span.IsRecording())
	span.End()

	assert.NoError(t, provider.Shutdown(context.Background()))
	assert.NotNil(t, provider.TracerProvider())
}

func TestNewProviderInvalidExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Enabled: true, ServiceName: "xgenc", ExporterType: "invalid"})
	require.Error(t, err)
	assert.Equal(t, "unsupported exporter type: invalid (supported: grpc, http)", err.Error())
}

func TestNilProviderShutdown(t *testing.T) {
	var p *Provider
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(1).Description(), "AlwaysOn")
	assert.Contains(t, sampler(0).Description(), "AlwaysOff")
	assert.Contains(t, sampler(0.5).Description(), "TraceIDRatioBased")
}

func attrMap(attrs []attribute.KeyValue) map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(attrs))
	for _, a := range attrs {
		m[string(a.Key)] = a.Value
	}
	return m
}

func TestSessionAttributes(t *testing.T) {
	m := attrMap(SessionAttributes("s1", "", "nvencc", 5, 2))
	assert.Equal(t, "s1", m[SessionIDKey].AsString())
	assert.Equal(t, int64(5), m[SessionJobsKey].AsInt64())
	assert.Equal(t, int64(2), m[SessionMaxJobsKey].AsInt64())
	assert.Equal(t, "nvencc", m[EncoderTypeKey].AsString())
	_, hasProfile := m[ProfileIDKey]
	assert.False(t, hasProfile)
}

func TestJobResultAttributes(t *testing.T) {
	assert.Len(t, JobResultAttributes("cancelled", nil), 1)

	code := 3
	m := attrMap(JobResultAttributes("failed", &code))
	assert.Equal(t, "failed", m[JobStatusKey].AsString())
	assert.Equal(t, int64(3), m[JobExitCodeKey].AsInt64())
}

func TestJobSpanRecordsAttributes(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := tp.Tracer("test").Start(context.Background(), "job")
	span.SetAttributes(JobAttributes("j1", "/in/a.mkv", 0)...)
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	m := attrMap(ended[0].Attributes())
	assert.Equal(t, "j1", m[JobIDKey].AsString())
	assert.Equal(t, int64(0), m[JobWorkerKey].AsInt64())
}
