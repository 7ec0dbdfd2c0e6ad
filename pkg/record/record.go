// Package record provides the append-only, keyword-indexed store of analysis
// records produced by the interpretation and ethics pipeline.
package record

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/neuroguard/neuroguard/pkg/apperrors"
)

// Kind identifies the payload shape of a record.
type Kind string

const (
	KindPatternInterpretation Kind = "pattern_interpretation"
	KindEthicsEvaluation      Kind = "ethics_evaluation"
	KindSystemAnalysis        Kind = "system_analysis"
)

// Kinds lists every valid kind in declaration order.
var Kinds = []Kind{KindPatternInterpretation, KindEthicsEvaluation, KindSystemAnalysis}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindPatternInterpretation, KindEthicsEvaluation, KindSystemAnalysis:
		return true
	}
	return false
}

// ParseKind converts a user-supplied string into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", apperrors.Validation("kind", fmt.Sprintf("must be one of %v", Kinds), s)
	}
	return k, nil
}

// Record is the atomic persisted unit. Records are never mutated after they
// are committed; corrections are new records.
type Record struct {
	// ID is assigned by the Store, unique and strictly increasing.
	ID uint64 `json:"id"`

	// Kind selects the payload shape.
	Kind Kind `json:"kind"`

	// CreatedAt is the commit time in UTC.
	CreatedAt time.Time `json:"created_at"`

	// Payload is the canonical JSON encoding of the typed payload.
	Payload json.RawMessage `json:"payload"`

	// Keywords is the sorted search token set derived from the payload.
	Keywords []string `json:"keywords"`
}

// Clone returns a deep copy so callers cannot alias stored bytes.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Payload = append(json.RawMessage(nil), r.Payload...)
	out.Keywords = append([]string(nil), r.Keywords...)
	return &out
}

// DecodePayload unmarshals the payload into v.
func (r *Record) DecodePayload(v interface{}) error {
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("record %d: decode %s payload: %w", r.ID, r.Kind, err)
	}
	return nil
}

// Interpretation decodes a pattern_interpretation payload.
func (r *Record) Interpretation() (*InterpretationPayload, error) {
	if r.Kind != KindPatternInterpretation {
		return nil, fmt.Errorf("record %d is %s, not %s", r.ID, r.Kind, KindPatternInterpretation)
	}
	var p InterpretationPayload
	if err := r.DecodePayload(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Evaluation decodes an ethics_evaluation payload.
func (r *Record) Evaluation() (*EvaluationPayload, error) {
	if r.Kind != KindEthicsEvaluation {
		return nil, fmt.Errorf("record %d is %s, not %s", r.ID, r.Kind, KindEthicsEvaluation)
	}
	var p EvaluationPayload
	if err := r.DecodePayload(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SystemAnalysis decodes a system_analysis payload.
func (r *Record) SystemAnalysis() (*SystemAnalysisPayload, error) {
	if r.Kind != KindSystemAnalysis {
		return nil, fmt.Errorf("record %d is %s, not %s", r.ID, r.Kind, KindSystemAnalysis)
	}
	var p SystemAnalysisPayload
	if err := r.DecodePayload(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Query selects records for Search.
type Query struct {
	// Kind filters by kind when non-empty.
	Kind Kind `json:"kind,omitempty"`

	// Keywords are matched case-insensitively by set intersection.
	Keywords []string `json:"keywords,omitempty"`

	// Limit bounds the result size; zero means unbounded.
	Limit int `json:"limit,omitempty"`
}

// normalize validates q and returns a copy with canonical keywords.
func (q Query) normalize() (Query, error) {
	if q.Kind != "" && !q.Kind.Valid() {
		return q, apperrors.Validation("kind", fmt.Sprintf("must be one of %v", Kinds), string(q.Kind))
	}
	if q.Limit < 0 {
		return q, apperrors.Validation("limit", "must be a positive integer", q.Limit)
	}
	q.Keywords = NormalizeKeywords(q.Keywords)
	return q, nil
}

// Matches reports whether rec satisfies an already-normalized query,
// ignoring Limit.
func (q Query) Matches(rec *Record) bool {
	if q.Kind != "" && rec.Kind != q.Kind {
		return false
	}
	if len(q.Keywords) == 0 {
		return true
	}
	return intersects(rec.Keywords, q.Keywords)
}

func intersects(sorted, query []string) bool {
	set := make(map[string]struct{}, len(sorted))
	for _, k := range sorted {
		set[k] = struct{}{}
	}
	for _, k := range query {
		if _, ok := set[k]; ok {
			return true
		}
	}
	return false
}
