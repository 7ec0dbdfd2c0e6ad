// Package ethics scores proposed actions against three fixed ethical
// frameworks and maps the aggregate onto a recommendation band.
package ethics

import (
	"context"
	"fmt"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/neuroguard/neuroguard/pkg/apperrors"
	"github.com/neuroguard/neuroguard/pkg/completion"
	"github.com/neuroguard/neuroguard/pkg/logger"
	"github.com/neuroguard/neuroguard/pkg/record"
)

// Config configures the Evaluator.
type Config struct {
	Temperature float64
	// MaxActionLength bounds the action text, in bytes.
	MaxActionLength int
}

// DefaultConfig returns the standard evaluator configuration.
func DefaultConfig() Config {
	return Config{Temperature: 0.2, MaxActionLength: 4096}
}

// Request is a full evaluation request.
type Request struct {
	Action string
	// SubjectRecordID references the interpretation the action came from.
	SubjectRecordID uint64
	// Caution lowers a proceed band to proceed_with_caution.
	Caution bool
}

// Result is the outcome of one evaluation.
type Result struct {
	Record         *record.Record
	Payload        *record.EvaluationPayload
	Alignment      float64
	Recommendation record.Recommendation
	Degraded       bool
}

// Evaluator scores actions and persists ethics_evaluation records.
type Evaluator struct {
	store     *record.Store
	completer completion.Completer
	cfg       Config
	logger    logger.Logger
}

// NewEvaluator creates an Evaluator over explicit store and collaborator
// handles.
func NewEvaluator(store *record.Store, completer completion.Completer, cfg Config, log logger.Logger) *Evaluator {
	if log == nil {
		log = logger.Nop()
	}
	if completer == nil {
		completer = completion.Unavailable()
	}
	return &Evaluator{
		store:     store,
		completer: completer,
		cfg:       cfg,
		logger:    log.With("component", "ethics"),
	}
}

// EvaluateEthics evaluates a bare action string.
func (e *Evaluator) EvaluateEthics(ctx context.Context, action string) (*Result, error) {
	return e.Evaluate(ctx, Request{Action: action})
}

// Evaluate scores req.Action once per framework, concurrently. A framework
// whose score cannot be obtained counts as 0.0 and degrades the result.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (*Result, error) {
	action := strings.TrimSpace(req.Action)
	if action == "" {
		return nil, apperrors.Validation("action", "is required", req.Action)
	}
	if e.cfg.MaxActionLength > 0 && len(action) > e.cfg.MaxActionLength {
		return nil, apperrors.Validation("action", fmt.Sprintf("exceeds %d bytes", e.cfg.MaxActionLength), len(action))
	}

	scores := make([]record.FrameworkScore, len(record.Frameworks))
	g, gctx := errgroup.WithContext(ctx)
	for idx, framework := range record.Frameworks {
		idx, framework := idx, framework
		g.Go(func() error {
			scores[idx] = e.scoreFramework(gctx, framework, action)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	payload := &record.EvaluationPayload{
		Action:          action,
		SubjectRecordID: req.SubjectRecordID,
		Frameworks:      scores,
	}
	payload.Alignment = Aggregate(scores)
	payload.Recommendation = record.RecommendationFor(payload.Alignment)
	for _, s := range scores {
		if s.Degraded {
			payload.Degraded = true
		}
	}
	if req.Caution && payload.Recommendation == record.Proceed {
		payload.Recommendation = record.ProceedWithCaution
		payload.CautionApplied = true
	}

	rec, err := e.store.Append(ctx, record.KindEthicsEvaluation, payload)
	if err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "action evaluated",
		"record_id", rec.ID, "recommendation", payload.Recommendation,
		"alignment", payload.Alignment, "degraded", payload.Degraded)

	return &Result{
		Record:         rec,
		Payload:        payload,
		Alignment:      payload.Alignment,
		Recommendation: payload.Recommendation,
		Degraded:       payload.Degraded,
	}, nil
}

func (e *Evaluator) scoreFramework(ctx context.Context, framework, action string) record.FrameworkScore {
	text, err := e.completer.Complete(ctx, buildPrompt(framework, action), e.cfg.Temperature)
	if err == nil {
		var score float64
		var rationale string
		score, rationale, err = ParseScore(text)
		if err == nil {
			return record.FrameworkScore{Framework: framework, Score: score, Rationale: rationale}
		}
	}
	if ctx.Err() == nil {
		e.logger.WarnContext(ctx, "framework score unavailable; scoring 0.0",
			"framework", framework, "degraded", true, "error", err)
	}
	return record.FrameworkScore{
		Framework: framework,
		Score:     0,
		Rationale: "score unavailable: " + err.Error(),
		Degraded:  true,
	}
}

// alignmentPrecision is the rounding grid of the aggregate. Three scores of
// 0.7 must average to exactly 0.7, not 0.6999999999999998.
const alignmentPrecision = 1e9

// Aggregate is the unweighted mean of the framework scores, summed in
// framework order and rounded to nine decimal places.
func Aggregate(scores []record.FrameworkScore) float64 {
	if len(scores) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range scores {
		sum += s.Score
	}
	return math.Round(sum/float64(len(scores))*alignmentPrecision) / alignmentPrecision
}
