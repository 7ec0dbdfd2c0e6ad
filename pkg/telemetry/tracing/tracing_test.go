package tracing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/neuroguard/neuroguard/config"
	"github.com/neuroguard/neuroguard/pkg/logger"
)

type recordingExporter struct {
	mu             sync.Mutex
	spans          []string
	fail           bool
	exportCalls    int
	shutdownCalled bool
}

func (r *recordingExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exportCalls++
	if r.fail {
		return errors.New("export unavailable")
	}
	for _, s := range spans {
		r.spans = append(r.spans, s.Name())
	}
	return nil
}

func (r *recordingExporter) Shutdown(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdownCalled = true
	return nil
}

type blockingShutdownExporter struct{}

func (blockingShutdownExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error {
	return nil
}

func (blockingShutdownExporter) Shutdown(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func enabledConfig() config.TracingConfig {
	return config.TracingConfig{
		Enabled:    true,
		Exporter:   "otlp",
		Endpoint:   "localhost:4317",
		Timeout:    200 * time.Millisecond,
		Sampler:    "always_on",
		SampleRate: 1.0,
	}
}

func TestInitDisabledInstallsNoop(t *testing.T) {
	exp := &recordingExporter{}
	p, err := Init(context.Background(), config.TracingConfig{Enabled: false}, WithExporter(exp))
	require.NoError(t, err)

	_, span := p.Tracer("test").Start(context.Background(), "ignored")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Zero(t, exp.exportCalls)
}

func TestInitEnabledRequiresEndpoint(t *testing.T) {
	cfg := enabledConfig()
	cfg.Endpoint = "  "
	_, err := Init(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint")
}

func TestInitEnabledRequiresTimeout(t *testing.T) {
	cfg := enabledConfig()
	cfg.Timeout = 0
	_, err := Init(context.Background(), cfg, WithExporter(&recordingExporter{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestInitEnabledExportsAndShutsDown(t *testing.T) {
	exp := &recordingExporter{}
	cfg := enabledConfig()
	cfg.Endpoint = "http://localhost:4317/v1/traces"

	p, err := Init(context.Background(), cfg, WithExporter(exp), WithService("neuroguard-test", "1.0.0"))
	require.NoError(t, err)

	_, span := p.Tracer("neuroguard.test").Start(context.Background(), "pattern_review")
	require.True(t, span.SpanContext().IsValid())
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))

	exp.mu.Lock()
	defer exp.mu.Unlock()
	assert.True(t, exp.shutdownCalled)
	assert.Equal(t, []string{"pattern_review"}, exp.spans)
}

func TestExporterFailureIsIsolated(t *testing.T) {
	exp := &recordingExporter{fail: true}
	var logs strings.Builder
	log := logger.New(&logger.Config{Level: logger.InfoLevel, Format: "json", Writer: &syncWriter{b: &logs}})

	p, err := Init(context.Background(), enabledConfig(), WithExporter(exp), WithLogger(log))
	require.NoError(t, err)

	_, span := p.Tracer("test").Start(context.Background(), "request-path")
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx), "delivery failures must not fail shutdown")

	assert.Positive(t, exp.exportCalls)
	assert.Positive(t, p.ExportFailures())
	assert.Contains(t, logs.String(), "tracing exporter failed")
}

func TestShutdownTimeoutIsBounded(t *testing.T) {
	p, err := Init(context.Background(), enabledConfig(), WithExporter(blockingShutdownExporter{}))
	require.NoError(t, err)

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = p.Shutdown(ctx)

	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestSelectSampler(t *testing.T) {
	assert.Contains(t, selectSampler(config.TracingConfig{Sampler: "always_on"}).Description(), "AlwaysOnSampler")
	assert.Contains(t, selectSampler(config.TracingConfig{Sampler: "always_off"}).Description(), "AlwaysOffSampler")
	got := selectSampler(config.TracingConfig{Sampler: "parentbased_traceidratio", SampleRate: 0.25}).Description()
	assert.Contains(t, strings.ToLower(got), "parentbased")
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := map[string]string{
		"localhost:4317":                  "localhost:4317",
		"http://localhost:4317/v1/traces": "localhost:4317",
		"":                                "",
		"  collector:4317 ":               "collector:4317",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeEndpoint(in), "input %q", in)
	}
}

type syncWriter struct {
	mu sync.Mutex
	b  *strings.Builder
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.b.Write(p)
}
