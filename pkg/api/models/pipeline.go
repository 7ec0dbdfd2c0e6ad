// Package models defines API request/response data structures.
package models

import (
	"time"

	"github.com/neuroguard/neuroguard/pkg/record"
)

// PatternRequest carries a raw pattern string. An empty pattern is
// accepted and decodes with low confidence; a missing one is not.
type PatternRequest struct {
	Pattern *string `json:"pattern" validate:"required"`
}

// EthicsRequest carries a candidate action.
type EthicsRequest struct {
	Action *string `json:"action" validate:"required"`
}

// InterpretationResponse is a persisted interpretation.
type InterpretationResponse struct {
	RecordID  uint64    `json:"record_id"`
	CreatedAt time.Time `json:"created_at"`
	*record.InterpretationPayload
}

// EvaluationResponse is a persisted ethics evaluation.
type EvaluationResponse struct {
	RecordID  uint64    `json:"record_id"`
	CreatedAt time.Time `json:"created_at"`
	*record.EvaluationPayload
}

// ReviewResponse is the combined result of a reviewed pattern.
type ReviewResponse struct {
	Interpretation InterpretationResponse `json:"interpretation"`
	Evaluation     EvaluationResponse     `json:"evaluation"`
	SafeToProceed  bool                   `json:"safe_to_proceed"`
	Degraded       bool                   `json:"degraded"`
	Stages         []string               `json:"stages"`
}

// AnalysisResponse is the result of a system analysis.
type AnalysisResponse struct {
	RecordID       uint64                `json:"record_id"`
	CreatedAt      time.Time             `json:"created_at"`
	Stable         bool                  `json:"stable"`
	StabilityClass string                `json:"stability_class"`
	SafePatterns   [][]string            `json:"safe_patterns"`
	Recommendation record.Recommendation `json:"recommendation"`
	Stages         []string              `json:"stages"`
}

// RecordListResponse is a page of search results, most recent first.
type RecordListResponse struct {
	Records []*record.Record `json:"records"`
	Count   int              `json:"count"`
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version map[string]string `json:"version,omitempty"`
}

// ReadyResponse is the readiness payload.
type ReadyResponse struct {
	Ready   bool              `json:"ready"`
	Records int               `json:"records"`
	Checks  map[string]string `json:"checks"`
}
