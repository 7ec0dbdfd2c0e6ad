// Package analysis validates system snapshots and derives stability and
// safe patterns from them. Everything here is pure.
package analysis

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/neuroguard/neuroguard/pkg/apperrors"
	"github.com/neuroguard/neuroguard/pkg/record"
)

// SystemData is the graph and activation input of a system analysis.
type SystemData = record.SystemSnapshot

// Config holds the fixed thresholds.
type Config struct {
	// ActivationThreshold is exclusive: both endpoints of a safe pattern
	// must be strictly above it.
	ActivationThreshold float64 `validate:"gte=0,lte=1"`
	// StabilityThreshold is inclusive.
	StabilityThreshold float64 `validate:"gte=0,lte=1"`
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{ActivationThreshold: 0.5, StabilityThreshold: 0.5}
}

// Analysis is the derived classification of a snapshot.
type Analysis struct {
	Stable         bool
	StabilityClass string
	SafePatterns   [][]string
	Recommendation record.Recommendation
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the snapshot structure: at least one unique, non-empty
// node; edges of exactly two declared endpoints; one activation per
// declared node and none for undeclared ones; every value within [0,1].
func Validate(data *SystemData) error {
	if data == nil {
		return apperrors.Validation("system_data", "is required", nil)
	}
	if err := validate.Struct(data); err != nil {
		var ves validator.ValidationErrors
		if errors.As(err, &ves) && len(ves) > 0 {
			return fieldError(ves[0])
		}
		return apperrors.Validation("system_data", err.Error(), nil)
	}

	declared := make(map[string]bool, len(data.Nodes))
	for _, n := range data.Nodes {
		declared[n] = true
	}
	for i, edge := range data.Edges {
		for _, endpoint := range edge {
			if !declared[endpoint] {
				return apperrors.Validation(fmt.Sprintf("edges[%d]", i),
					fmt.Sprintf("references undeclared node %q", endpoint), edge)
			}
		}
	}
	for _, n := range data.Nodes {
		if _, ok := data.Activation[n]; !ok {
			return apperrors.Validation(fmt.Sprintf("activation[%s]", n), "missing activation for declared node", nil)
		}
	}
	if len(data.Activation) != len(declared) {
		for n := range data.Activation {
			if !declared[n] {
				return apperrors.Validation(fmt.Sprintf("activation[%s]", n), "activation for undeclared node", data.Activation[n])
			}
		}
	}
	return nil
}

func fieldError(fe validator.FieldError) error {
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	var msg string
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "min":
		msg = fmt.Sprintf("must contain at least %s entries", fe.Param())
	case "unique":
		msg = "must not contain duplicates"
	case "len":
		msg = fmt.Sprintf("must have exactly %s endpoints", fe.Param())
	case "gte", "lte":
		msg = "must be within [0,1]"
	default:
		msg = "failed validation: " + fe.Tag()
	}
	return apperrors.Validation(field, msg, fe.Value())
}

// Analyze validates data and derives stability, safe patterns and the
// recommendation band of the stability index.
func Analyze(data *SystemData, cfg Config) (*Analysis, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}

	index := data.Stability()
	a := &Analysis{
		Stable:         index >= cfg.StabilityThreshold,
		StabilityClass: record.StabilityUnstable,
		SafePatterns:   SafePatterns(data, cfg.ActivationThreshold),
		Recommendation: record.RecommendationFor(index),
	}
	if a.Stable {
		a.StabilityClass = record.StabilityStable
	}
	return a, nil
}

// SafePatterns returns, in input order, the edges whose endpoints both have
// activation strictly above threshold. The result is never nil.
func SafePatterns(data *SystemData, threshold float64) [][]string {
	out := make([][]string, 0)
	for _, edge := range data.Edges {
		if len(edge) != 2 {
			continue
		}
		if data.Activation[edge[0]] > threshold && data.Activation[edge[1]] > threshold {
			out = append(out, []string{edge[0], edge[1]})
		}
	}
	return out
}
