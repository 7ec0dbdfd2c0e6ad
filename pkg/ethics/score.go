package ethics

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/neuroguard/neuroguard/pkg/completion"
)

// ErrNoScore is returned when a response holds no usable score.
var ErrNoScore = errors.New("no score in response")

var scorePattern = regexp.MustCompile(`(?i)"?score"?\s*[:=]\s*"?(-?[0-9]*\.?[0-9]+)`)

const maxRationaleRunes = 1000

// ParseScore extracts a score in [0,1] and a rationale from a collaborator
// response. The requested JSON object wins; a "score: <n>" mention is the
// fallback.
func ParseScore(text string) (float64, string, error) {
	cleaned := completion.StripCodeFence(text)
	if cleaned == "" {
		return 0, "", fmt.Errorf("%w: empty response", ErrNoScore)
	}

	var out struct {
		Score     interface{} `json:"score"`
		Rationale string      `json:"rationale"`
	}
	if err := completion.DecodeJSON(cleaned, &out); err == nil && out.Score != nil {
		score, err := toScore(out.Score)
		if err != nil {
			return 0, "", err
		}
		return score, clip(strings.TrimSpace(out.Rationale)), nil
	}

	m := scorePattern.FindStringSubmatch(cleaned)
	if m == nil {
		return 0, "", ErrNoScore
	}
	score, err := toScore(m[1])
	if err != nil {
		return 0, "", err
	}
	return score, clip(cleaned), nil
}

func toScore(v interface{}) (float64, error) {
	var f float64
	switch s := v.(type) {
	case float64:
		f = s
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrNoScore, s)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("%w: unexpected score type %T", ErrNoScore, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > 1 {
		return 0, fmt.Errorf("%w: %v outside [0,1]", ErrNoScore, f)
	}
	return f, nil
}

func clip(s string) string {
	r := []rune(s)
	if len(r) <= maxRationaleRunes {
		return s
	}
	return string(r[:maxRationaleRunes])
}
