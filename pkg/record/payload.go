package record

import (
	"fmt"
	"math"
	"strings"

	"github.com/neuroguard/neuroguard/pkg/apperrors"
)

// Recommendation is the three-band outcome shared by ethics evaluation and
// system analysis.
type Recommendation string

const (
	Proceed            Recommendation = "proceed"
	ProceedWithCaution Recommendation = "proceed_with_caution"
	DoNotProceed       Recommendation = "do_not_proceed"
)

// Valid reports whether r is a declared recommendation.
func (r Recommendation) Valid() bool {
	switch r {
	case Proceed, ProceedWithCaution, DoNotProceed:
		return true
	}
	return false
}

// Band lower bounds. Each band includes its lower bound.
const (
	ProceedThreshold = 0.7
	CautionThreshold = 0.4
)

// RecommendationFor maps a score in [0,1] onto the three bands.
func RecommendationFor(score float64) Recommendation {
	switch {
	case score >= ProceedThreshold:
		return Proceed
	case score >= CautionThreshold:
		return ProceedWithCaution
	default:
		return DoNotProceed
	}
}

// Payload is implemented by every typed record payload.
type Payload interface {
	// Kind returns the record kind this payload belongs to.
	Kind() Kind
	// Validate checks that required fields are present and in range.
	Validate() error

	keywordSources() (texts []string, tags []string)
}

// Polarity values produced by the pattern decoder.
const (
	PolarityPositive = "positive"
	PolarityNegative = "negative"
	PolarityNeutral  = "neutral"
	PolarityUnknown  = "unknown"
)

// PatternFeatures is the deterministic decode summary of a pattern string.
type PatternFeatures struct {
	BitToken      string            `json:"bit_token,omitempty"`
	BitLength     int               `json:"bit_length"`
	Ones          int               `json:"ones"`
	Density       float64           `json:"density"`
	LongestRun    int               `json:"longest_run"`
	Transitions   int               `json:"transitions"`
	Burst         bool              `json:"burst"`
	Oscillating   bool              `json:"oscillating"`
	Polarity      string            `json:"polarity"`
	Label         string            `json:"label,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	LowConfidence bool              `json:"low_confidence"`
}

// InterpretationPayload is the payload of a pattern_interpretation record.
type InterpretationPayload struct {
	Pattern          string          `json:"pattern"`
	Features         PatternFeatures `json:"features"`
	Interpretation   string          `json:"interpretation"`
	Summary          string          `json:"summary,omitempty"`
	ContextRecordIDs []uint64        `json:"context_record_ids"`
	Degraded         bool            `json:"degraded"`
}

func (p *InterpretationPayload) Kind() Kind { return KindPatternInterpretation }

func (p *InterpretationPayload) Validate() error {
	if strings.TrimSpace(p.Interpretation) == "" {
		return apperrors.Validation("payload.interpretation", "is required", p.Interpretation)
	}
	if p.Features.Polarity == "" {
		return apperrors.Validation("payload.features.polarity", "is required", p.Features.Polarity)
	}
	if p.Features.Density < 0 || p.Features.Density > 1 {
		return apperrors.Validation("payload.features.density", "must be within [0,1]", p.Features.Density)
	}
	return nil
}

func (p *InterpretationPayload) keywordSources() ([]string, []string) {
	texts := []string{p.Pattern, p.Features.Label, p.Interpretation, p.Summary}
	for _, v := range p.Features.Metadata {
		texts = append(texts, v)
	}
	tags := []string{"polarity_" + p.Features.Polarity}
	if p.Features.Burst {
		tags = append(tags, "burst")
	}
	if p.Features.Oscillating {
		tags = append(tags, "oscillating")
	}
	if p.Features.LowConfidence {
		tags = append(tags, "low_confidence")
	}
	if p.Degraded {
		tags = append(tags, "degraded")
	}
	return texts, tags
}

// Framework names scored by the ethics evaluator.
const (
	FrameworkUtilitarian   = "utilitarian"
	FrameworkDeontological = "deontological"
	FrameworkVirtue        = "virtue"
)

// Frameworks lists the fixed frameworks in reporting order.
var Frameworks = []string{FrameworkUtilitarian, FrameworkDeontological, FrameworkVirtue}

// FrameworkScore is one framework's bounded score and rationale.
type FrameworkScore struct {
	Framework string  `json:"framework"`
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale"`
	Degraded  bool    `json:"degraded,omitempty"`
}

// EvaluationPayload is the payload of an ethics_evaluation record.
type EvaluationPayload struct {
	Action          string           `json:"action"`
	SubjectRecordID uint64           `json:"subject_record_id,omitempty"`
	Frameworks      []FrameworkScore `json:"frameworks"`
	Alignment       float64          `json:"alignment"`
	Recommendation  Recommendation   `json:"recommendation"`
	CautionApplied  bool             `json:"caution_applied,omitempty"`
	Degraded        bool             `json:"degraded"`
}

func (p *EvaluationPayload) Kind() Kind { return KindEthicsEvaluation }

func (p *EvaluationPayload) Validate() error {
	if strings.TrimSpace(p.Action) == "" {
		return apperrors.Validation("payload.action", "is required", p.Action)
	}
	if len(p.Frameworks) != len(Frameworks) {
		return apperrors.Validation("payload.frameworks",
			fmt.Sprintf("must contain exactly %d framework scores", len(Frameworks)), len(p.Frameworks))
	}
	seen := make(map[string]bool, len(p.Frameworks))
	for i, fs := range p.Frameworks {
		field := fmt.Sprintf("payload.frameworks[%d]", i)
		if !isFramework(fs.Framework) {
			return apperrors.Validation(field+".framework", "unknown framework", fs.Framework)
		}
		if seen[fs.Framework] {
			return apperrors.Validation(field+".framework", "duplicate framework", fs.Framework)
		}
		seen[fs.Framework] = true
		if !unitInterval(fs.Score) {
			return apperrors.Validation(field+".score", "must be within [0,1]", fs.Score)
		}
	}
	if !unitInterval(p.Alignment) {
		return apperrors.Validation("payload.alignment", "must be within [0,1]", p.Alignment)
	}
	if !p.Recommendation.Valid() {
		return apperrors.Validation("payload.recommendation", "unknown recommendation", string(p.Recommendation))
	}
	return nil
}

func (p *EvaluationPayload) keywordSources() ([]string, []string) {
	texts := []string{p.Action}
	for _, fs := range p.Frameworks {
		texts = append(texts, fs.Rationale)
	}
	tags := []string{string(p.Recommendation)}
	if p.CautionApplied {
		tags = append(tags, "caution_applied")
	}
	if p.Degraded {
		tags = append(tags, "degraded")
	}
	return texts, tags
}

// SystemSnapshot is the graph and activation input of a system analysis.
type SystemSnapshot struct {
	Nodes          []string           `json:"nodes" validate:"required,min=1,unique,dive,required"`
	Edges          [][]string         `json:"edges" validate:"dive,len=2,dive,required"`
	Activation     map[string]float64 `json:"activation" validate:"required,dive,gte=0,lte=1"`
	StabilityIndex *float64           `json:"stability_index" validate:"required,gte=0,lte=1"`
}

// Stability returns the stability index, or 0 when it is absent.
func (s *SystemSnapshot) Stability() float64 {
	if s.StabilityIndex == nil {
		return 0
	}
	return *s.StabilityIndex
}

// Index returns a pointer to v for building snapshots.
func Index(v float64) *float64 { return &v }

// Stability classes.
const (
	StabilityStable   = "stable"
	StabilityUnstable = "unstable"
)

// SystemAnalysisPayload is the payload of a system_analysis record.
type SystemAnalysisPayload struct {
	Snapshot            SystemSnapshot `json:"snapshot"`
	StabilityClass      string         `json:"stability_class"`
	Stable              bool           `json:"stable"`
	SafePatterns        [][]string     `json:"safe_patterns"`
	ActivationThreshold float64        `json:"activation_threshold"`
	StabilityThreshold  float64        `json:"stability_threshold"`
	Recommendation      Recommendation `json:"recommendation"`
}

func (p *SystemAnalysisPayload) Kind() Kind { return KindSystemAnalysis }

func (p *SystemAnalysisPayload) Validate() error {
	if len(p.Snapshot.Nodes) == 0 {
		return apperrors.Validation("payload.snapshot.nodes", "is required", nil)
	}
	if p.StabilityClass != StabilityStable && p.StabilityClass != StabilityUnstable {
		return apperrors.Validation("payload.stability_class", "must be stable or unstable", p.StabilityClass)
	}
	if !p.Recommendation.Valid() {
		return apperrors.Validation("payload.recommendation", "unknown recommendation", string(p.Recommendation))
	}
	for i, e := range p.SafePatterns {
		if len(e) != 2 {
			return apperrors.Validation(fmt.Sprintf("payload.safe_patterns[%d]", i), "must have two endpoints", e)
		}
	}
	return nil
}

func (p *SystemAnalysisPayload) keywordSources() ([]string, []string) {
	texts := append([]string(nil), p.Snapshot.Nodes...)
	tags := []string{p.StabilityClass, string(p.Recommendation)}
	if len(p.SafePatterns) > 0 {
		tags = append(tags, "safe_patterns")
	}
	return texts, tags
}

func isFramework(name string) bool {
	for _, f := range Frameworks {
		if f == name {
			return true
		}
	}
	return false
}

func unitInterval(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
