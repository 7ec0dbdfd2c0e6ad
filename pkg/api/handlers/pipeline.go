package handlers

import (
	"context"
	"net/http"

	"github.com/neuroguard/neuroguard/pkg/analysis"
	"github.com/neuroguard/neuroguard/pkg/api/models"
	"github.com/neuroguard/neuroguard/pkg/api/response"
	"github.com/neuroguard/neuroguard/pkg/ethics"
	"github.com/neuroguard/neuroguard/pkg/logger"
	"github.com/neuroguard/neuroguard/pkg/orchestrator"
	"github.com/neuroguard/neuroguard/pkg/pattern"
)

// Reviewer runs the two safety-checked operations.
type Reviewer interface {
	ProcessPatternWithEthicalReview(ctx context.Context, p string) (*orchestrator.CombinedResult, error)
	AnalyzeSystemWithSafetyChecks(ctx context.Context, data *analysis.SystemData) (*orchestrator.SystemAnalysisResult, error)
}

// PatternInterpreter interprets a pattern without ethics review.
type PatternInterpreter interface {
	InterpretPattern(ctx context.Context, p string) (*pattern.Result, error)
}

// EthicsEvaluator scores a standalone action.
type EthicsEvaluator interface {
	EvaluateEthics(ctx context.Context, action string) (*ethics.Result, error)
}

// PipelineHandler serves the pattern, ethics and system endpoints.
type PipelineHandler struct {
	reviewer    Reviewer
	interpreter PatternInterpreter
	evaluator   EthicsEvaluator
	logger      logger.Logger
}

// NewPipelineHandler creates a pipeline handler. A nil interpreter or
// evaluator disables the corresponding lower-level endpoint.
func NewPipelineHandler(reviewer Reviewer, interpreter PatternInterpreter, evaluator EthicsEvaluator, log logger.Logger) *PipelineHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &PipelineHandler{
		reviewer:    reviewer,
		interpreter: interpreter,
		evaluator:   evaluator,
		logger:      log,
	}
}

// ReviewPattern handles POST /api/v1/patterns/review.
func (h *PipelineHandler) ReviewPattern(w http.ResponseWriter, r *http.Request) {
	var req models.PatternRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(h.logger, w, r, orchestrator.OpPatternReview, err)
		return
	}

	res, err := h.reviewer.ProcessPatternWithEthicalReview(r.Context(), *req.Pattern)
	if err != nil {
		writeError(h.logger, w, r, orchestrator.OpPatternReview, err)
		return
	}

	response.JSON(w, http.StatusOK, models.ReviewResponse{
		Interpretation: interpretationResponse(res.Interpretation),
		Evaluation:     evaluationResponse(res.Evaluation),
		SafeToProceed:  res.SafeToProceed,
		Degraded:       res.Degraded,
		Stages:         stageNames(res.Stages),
	})
}

// InterpretPattern handles POST /api/v1/patterns/interpret. The result
// carries no ethics review.
func (h *PipelineHandler) InterpretPattern(w http.ResponseWriter, r *http.Request) {
	var req models.PatternRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(h.logger, w, r, "interpret", err)
		return
	}

	res, err := h.interpreter.InterpretPattern(r.Context(), *req.Pattern)
	if err != nil {
		writeError(h.logger, w, r, "interpret", err)
		return
	}
	response.JSON(w, http.StatusOK, interpretationResponse(res))
}

// EvaluateEthics handles POST /api/v1/ethics/evaluate.
func (h *PipelineHandler) EvaluateEthics(w http.ResponseWriter, r *http.Request) {
	var req models.EthicsRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(h.logger, w, r, "evaluate", err)
		return
	}

	res, err := h.evaluator.EvaluateEthics(r.Context(), *req.Action)
	if err != nil {
		writeError(h.logger, w, r, "evaluate", err)
		return
	}
	response.JSON(w, http.StatusOK, evaluationResponse(res))
}

// AnalyzeSystem handles POST /api/v1/systems/analyze. The body is the
// system_data object itself.
func (h *PipelineHandler) AnalyzeSystem(w http.ResponseWriter, r *http.Request) {
	var data analysis.SystemData
	if err := decodeJSON(r, &data); err != nil {
		writeError(h.logger, w, r, orchestrator.OpSystemAnalysis, err)
		return
	}

	res, err := h.reviewer.AnalyzeSystemWithSafetyChecks(r.Context(), &data)
	if err != nil {
		writeError(h.logger, w, r, orchestrator.OpSystemAnalysis, err)
		return
	}

	response.JSON(w, http.StatusOK, models.AnalysisResponse{
		RecordID:       res.Record.ID,
		CreatedAt:      res.Record.CreatedAt,
		Stable:         res.Stable,
		StabilityClass: res.StabilityClass,
		SafePatterns:   res.SafePatterns,
		Recommendation: res.Recommendation,
		Stages:         stageNames(res.Stages),
	})
}

func interpretationResponse(res *pattern.Result) models.InterpretationResponse {
	return models.InterpretationResponse{
		RecordID:              res.Record.ID,
		CreatedAt:             res.Record.CreatedAt,
		InterpretationPayload: res.Payload,
	}
}

func evaluationResponse(res *ethics.Result) models.EvaluationResponse {
	return models.EvaluationResponse{
		RecordID:          res.Record.ID,
		CreatedAt:         res.Record.CreatedAt,
		EvaluationPayload: res.Payload,
	}
}

func stageNames(stages []orchestrator.Stage) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = string(s)
	}
	return out
}
