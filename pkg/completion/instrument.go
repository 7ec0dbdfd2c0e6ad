package completion

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neuroguard/neuroguard/pkg/apperrors"
)

const tracerName = "github.com/neuroguard/neuroguard/pkg/completion"

// MetricsRecorder records collaborator call metrics.
type MetricsRecorder interface {
	RecordCompletion(provider, status string, duration time.Duration)
}

// Instrument wraps c with a client span and call metrics.
func Instrument(c Completer, provider string, metrics MetricsRecorder) Completer {
	return &instrumented{next: c, provider: provider, metrics: metrics}
}

type instrumented struct {
	next     Completer
	provider string
	metrics  MetricsRecorder
}

func (i *instrumented) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "completion.complete",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", i.provider),
			attribute.Float64("llm.temperature", temperature),
			attribute.Int("llm.prompt_chars", len(prompt)),
		),
	)
	defer span.End()

	start := time.Now()
	text, err := i.next.Complete(ctx, prompt, temperature)
	if i.metrics != nil {
		i.metrics.RecordCompletion(i.provider, apperrors.Status(err), time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.Int("llm.response_chars", len(text)))
	return text, nil
}
