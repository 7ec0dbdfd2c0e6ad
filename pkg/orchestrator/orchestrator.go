// Package orchestrator sequences interpretation, mandatory ethics review and
// system analysis into the two combined operations callers rely on.
package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neuroguard/neuroguard/pkg/analysis"
	"github.com/neuroguard/neuroguard/pkg/apperrors"
	"github.com/neuroguard/neuroguard/pkg/ethics"
	"github.com/neuroguard/neuroguard/pkg/logger"
	"github.com/neuroguard/neuroguard/pkg/pattern"
	"github.com/neuroguard/neuroguard/pkg/record"
)

const tracerName = "neuroguard.orchestrator"

const (
	spanPatternReview  = "orchestrator.pattern_review"
	spanSystemAnalysis = "orchestrator.system_analysis"
)

// Operation labels used in metrics and logs.
const (
	OpPatternReview  = "pattern_review"
	OpSystemAnalysis = "system_analysis"
)

// ActionPrefix starts every candidate action derived from an interpretation.
const ActionPrefix = "act on interpretation: "

// CombinedResult is the outcome of a reviewed pattern. Evaluation is never
// nil when the error is nil.
type CombinedResult struct {
	Interpretation *pattern.Result
	Evaluation     *ethics.Result
	SafeToProceed  bool
	Degraded       bool
	Stages         []Stage
}

// SystemAnalysisResult is the outcome of a system analysis.
type SystemAnalysisResult struct {
	Record         *record.Record
	Payload        *record.SystemAnalysisPayload
	Stable         bool
	StabilityClass string
	SafePatterns   [][]string
	Recommendation record.Recommendation
	Stages         []Stage
}

// Orchestrator is the safety-guaranteed entry point of the pipeline.
type Orchestrator struct {
	interpreter *pattern.Interpreter
	evaluator   *ethics.Evaluator
	store       *record.Store
	analysisCfg analysis.Config

	logger  logger.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithAnalysisConfig overrides the system analysis thresholds.
func WithAnalysisConfig(cfg analysis.Config) Option {
	return func(o *Orchestrator) { o.analysisCfg = cfg }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithClock overrides the clock used for stage timings.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates an Orchestrator from explicit component handles.
func New(interpreter *pattern.Interpreter, evaluator *ethics.Evaluator, store *record.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		interpreter: interpreter,
		evaluator:   evaluator,
		store:       store,
		analysisCfg: analysis.DefaultConfig(),
		logger:      logger.Nop(),
		metrics:     nopMetricsRecorder{},
		tracer:      otel.Tracer(tracerName),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "orchestrator")
	return o
}

// ProcessPatternWithEthicalReview interprets pattern and unconditionally
// evaluates the action derived from it. Collaborator failures degrade both
// halves; validation and store failures end the request with no result.
func (o *Orchestrator) ProcessPatternWithEthicalReview(ctx context.Context, p string) (res *CombinedResult, err error) {
	ctx, span := o.tracer.Start(ctx, spanPatternReview, trace.WithAttributes(
		attribute.Int("pattern.length", len(p)),
	))
	t := newTracker(OpPatternReview, span, o.metrics, o.now)
	defer func() { o.finish(ctx, t, span, err) }()

	features, err := o.interpreter.Decode(p)
	if err != nil {
		o.logger.InfoContext(ctx, "pattern rejected", "stage", t.current(), "error", err)
		return nil, err
	}
	t.advance(StageDecoded)

	contextRecs := o.interpreter.Context(ctx)
	t.advance(StageContextRetrieved)

	interp, err := o.interpreter.InterpretDecoded(ctx, p, features, contextRecs)
	if err != nil {
		return nil, err
	}
	t.advance(StageInterpreted)
	span.SetAttributes(
		attribute.Int64("interpretation.record_id", int64(interp.Record.ID)),
		attribute.Bool("interpretation.degraded", interp.Degraded),
		attribute.Bool("interpretation.low_confidence", features.LowConfidence),
	)

	eval, err := o.evaluator.Evaluate(ctx, ethics.Request{
		Action:          CandidateAction(interp),
		SubjectRecordID: interp.Record.ID,
		Caution:         features.LowConfidence || interp.Degraded,
	})
	if err != nil {
		return nil, err
	}
	t.advance(StageEthicsGated)
	t.advance(StagePersisted)

	res = &CombinedResult{
		Interpretation: interp,
		Evaluation:     eval,
		SafeToProceed:  eval.Recommendation != record.DoNotProceed,
		Degraded:       interp.Degraded || eval.Degraded,
	}
	span.SetAttributes(
		attribute.Int64("evaluation.record_id", int64(eval.Record.ID)),
		attribute.String("recommendation", string(eval.Recommendation)),
		attribute.Bool("safe_to_proceed", res.SafeToProceed),
	)
	o.metrics.RecordRecommendation(OpPatternReview, string(eval.Recommendation))
	if res.Degraded {
		o.metrics.RecordDegraded(OpPatternReview)
	}
	t.advance(StageReturned)
	res.Stages = t.snapshot()

	o.logger.InfoContext(ctx, "pattern reviewed",
		"interpretation_id", interp.Record.ID, "evaluation_id", eval.Record.ID,
		"recommendation", eval.Recommendation, "safe_to_proceed", res.SafeToProceed,
		"degraded", res.Degraded)
	return res, nil
}

// AnalyzeSystemWithSafetyChecks validates data, classifies its stability,
// derives safe patterns and persists a system_analysis record.
func (o *Orchestrator) AnalyzeSystemWithSafetyChecks(ctx context.Context, data *analysis.SystemData) (res *SystemAnalysisResult, err error) {
	ctx, span := o.tracer.Start(ctx, spanSystemAnalysis)
	t := newTracker(OpSystemAnalysis, span, o.metrics, o.now)
	defer func() { o.finish(ctx, t, span, err) }()

	if err = analysis.Validate(data); err != nil {
		o.logger.InfoContext(ctx, "system data rejected", "stage", t.current(), "error", err)
		return nil, err
	}
	t.advance(StageValidated)
	span.SetAttributes(
		attribute.Int("system.nodes", len(data.Nodes)),
		attribute.Int("system.edges", len(data.Edges)),
	)

	result, err := analysis.Analyze(data, o.analysisCfg)
	if err != nil {
		return nil, err
	}
	t.advance(StageAnalyzed)
	t.advance(StageEthicsGated)

	if err = ctx.Err(); err != nil {
		return nil, err
	}
	payload := &record.SystemAnalysisPayload{
		Snapshot:            *data,
		StabilityClass:      result.StabilityClass,
		Stable:              result.Stable,
		SafePatterns:        result.SafePatterns,
		ActivationThreshold: o.analysisCfg.ActivationThreshold,
		StabilityThreshold:  o.analysisCfg.StabilityThreshold,
		Recommendation:      result.Recommendation,
	}
	rec, err := o.store.Append(ctx, record.KindSystemAnalysis, payload)
	if err != nil {
		return nil, err
	}
	t.advance(StagePersisted)

	o.metrics.RecordRecommendation(OpSystemAnalysis, string(result.Recommendation))
	span.SetAttributes(
		attribute.Int64("record_id", int64(rec.ID)),
		attribute.String("stability_class", result.StabilityClass),
		attribute.Int("safe_patterns", len(result.SafePatterns)),
	)
	t.advance(StageReturned)

	o.logger.InfoContext(ctx, "system analyzed",
		"record_id", rec.ID, "stability_class", result.StabilityClass,
		"safe_patterns", len(result.SafePatterns), "recommendation", result.Recommendation)

	return &SystemAnalysisResult{
		Record:         rec,
		Payload:        payload,
		Stable:         result.Stable,
		StabilityClass: result.StabilityClass,
		SafePatterns:   result.SafePatterns,
		Recommendation: result.Recommendation,
		Stages:         t.snapshot(),
	}, nil
}

func (o *Orchestrator) finish(ctx context.Context, t *tracker, span trace.Span, err error) {
	status := apperrors.Status(err)
	o.metrics.RecordRequest(t.op, status, t.elapsed())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		span.SetAttributes(attribute.String("failed_stage", string(t.current())))
		if status == apperrors.TypeStore {
			o.logger.ErrorContext(ctx, "request failed", "op", t.op, "stage", t.current(), "error", err)
		}
	}
	span.End()
}

// CandidateAction derives the action reviewed for an interpretation.
func CandidateAction(interp *pattern.Result) string {
	summary := interp.Payload.Summary
	if summary == "" {
		summary = pattern.FirstSentence(interp.Payload.Interpretation, pattern.SummaryMaxRunes)
	}
	return ActionPrefix + summary
}
