// Package pattern decodes encoded signal patterns into deterministic
// features and interprets them through the completion collaborator.
package pattern

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/neuroguard/neuroguard/pkg/apperrors"
	"github.com/neuroguard/neuroguard/pkg/record"
)

// Features is the decoded feature summary of a pattern.
type Features = record.PatternFeatures

// DecodeConfig holds the decode rule thresholds.
type DecodeConfig struct {
	// MaxPatternLength is the largest accepted pattern, in bytes.
	MaxPatternLength int
	// MinBits is the shortest bit token decoded with full confidence.
	MinBits int
	// BurstRunLength is the shortest run of ones that counts as a burst.
	BurstRunLength int
	// OscillationRate is the minimum transitions/(bits-1) ratio for
	// oscillation.
	OscillationRate float64
}

// DefaultDecodeConfig returns the standard rule thresholds.
func DefaultDecodeConfig() DecodeConfig {
	return DecodeConfig{
		MaxPatternLength: 4096,
		MinBits:          8,
		BurstRunLength:   2,
		OscillationRate:  0.5,
	}
}

var (
	bitToken  = regexp.MustCompile(`^([01]+)(?:\s+(.*))?$`)
	metaField = regexp.MustCompile(`^([^:]+):(.*)$`)
	spaces    = regexp.MustCompile(`\s+`)
)

// Decode applies the fixed rule table to pattern. It is pure. Only input
// that cannot be treated as a token stream at all is rejected; anything
// else decodes, flagged low_confidence when it strays from the grammar
//
//	<bits> - <label> - <Key>: <Value> - ...
func Decode(pattern string, cfg DecodeConfig) (Features, error) {
	if err := checkTokenStream(pattern, cfg.MaxPatternLength); err != nil {
		return Features{}, err
	}

	f := Features{Polarity: record.PolarityUnknown}
	trimmed := strings.TrimSpace(pattern)
	if trimmed == "" {
		f.LowConfidence = true
		return f, nil
	}

	segments := splitSegments(trimmed)
	rest := segments
	if m := bitToken.FindStringSubmatch(strings.TrimSpace(segments[0])); m != nil {
		f.BitToken = m[1]
		rest = segments[1:]
		if extra := strings.TrimSpace(m[2]); extra != "" {
			rest = append([]string{extra}, rest...)
		}
	} else {
		f.LowConfidence = true
	}

	var labels []string
	for _, seg := range rest {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			f.LowConfidence = true
			continue
		}
		if m := metaField.FindStringSubmatch(seg); m != nil {
			key := strings.ToLower(spaces.ReplaceAllString(strings.TrimSpace(m[1]), " "))
			value := strings.TrimSpace(m[2])
			if key == "" || value == "" {
				f.LowConfidence = true
				continue
			}
			if f.Metadata == nil {
				f.Metadata = make(map[string]string)
			}
			f.Metadata[key] = value
			continue
		}
		labels = append(labels, seg)
	}
	f.Label = strings.Join(labels, "; ")

	applyBitRules(&f, cfg)
	f.Polarity = polarity(f.Metadata)
	if strings.Contains(strings.ToLower(f.Label), "burst") {
		f.Burst = true
	}
	return f, nil
}

// splitSegments splits on standalone "-" fields. Whitespace inside a
// segment collapses to single spaces; empty segments are kept.
func splitSegments(s string) []string {
	var (
		segments []string
		current  []string
	)
	for _, field := range strings.Fields(s) {
		if field == "-" {
			segments = append(segments, strings.Join(current, " "))
			current = current[:0]
			continue
		}
		current = append(current, field)
	}
	return append(segments, strings.Join(current, " "))
}

func checkTokenStream(pattern string, maxLen int) error {
	if maxLen > 0 && len(pattern) > maxLen {
		return apperrors.Validation("pattern", fmt.Sprintf("exceeds %d bytes", maxLen), len(pattern))
	}
	if !utf8.ValidString(pattern) {
		return apperrors.Validation("pattern", "is not valid UTF-8", nil)
	}
	for i, r := range pattern {
		if unicode.IsControl(r) && r != '\t' && r != '\n' {
			return apperrors.Validation("pattern", fmt.Sprintf("control character at byte %d", i), fmt.Sprintf("%U", r))
		}
	}
	return nil
}

func applyBitRules(f *Features, cfg DecodeConfig) {
	bits := f.BitToken
	f.BitLength = len(bits)
	if f.BitLength == 0 {
		f.LowConfidence = true
		return
	}
	if f.BitLength < cfg.MinBits {
		f.LowConfidence = true
	}

	run := 0
	for i := 0; i < len(bits); i++ {
		if bits[i] == '1' {
			f.Ones++
			run++
			if run > f.LongestRun {
				f.LongestRun = run
			}
		} else {
			run = 0
		}
		if i > 0 && bits[i] != bits[i-1] {
			f.Transitions++
		}
	}
	f.Density = float64(f.Ones) / float64(f.BitLength)

	if cfg.BurstRunLength > 0 && f.LongestRun >= cfg.BurstRunLength {
		f.Burst = true
	}
	if f.BitLength > 1 {
		rate := float64(f.Transitions) / float64(f.BitLength-1)
		f.Oscillating = rate >= cfg.OscillationRate
	}
}

func polarity(meta map[string]string) string {
	for _, key := range []string{"phase alignment", "polarity"} {
		switch strings.ToLower(meta[key]) {
		case record.PolarityPositive:
			return record.PolarityPositive
		case record.PolarityNegative:
			return record.PolarityNegative
		case record.PolarityNeutral:
			return record.PolarityNeutral
		}
	}
	return record.PolarityUnknown
}

// FeatureSummary renders features as a deterministic sentence. It is the
// interpretation of last resort when the collaborator is unavailable.
func FeatureSummary(f Features) string {
	var b strings.Builder
	b.WriteString("Feature-only interpretation: ")
	if f.BitLength == 0 {
		b.WriteString("no bit sequence detected")
	} else {
		fmt.Fprintf(&b, "%d-bit sequence with %d active bits (density %.2f, longest run %d, %d transitions)",
			f.BitLength, f.Ones, f.Density, f.LongestRun, f.Transitions)
	}

	var traits []string
	if f.Burst {
		traits = append(traits, "burst activity")
	}
	if f.Oscillating {
		traits = append(traits, "oscillating activity")
	}
	if f.Polarity != "" && f.Polarity != record.PolarityUnknown {
		traits = append(traits, f.Polarity+" phase alignment")
	}
	if len(traits) > 0 {
		b.WriteString("; ")
		b.WriteString(strings.Join(traits, ", "))
	}
	if f.Label != "" {
		fmt.Fprintf(&b, "; labeled %q", f.Label)
	}
	if f.LowConfidence {
		b.WriteString("; low confidence decode")
	}
	b.WriteString(".")
	return b.String()
}

// FirstSentence returns the first sentence of text, truncated to max runes.
func FirstSentence(text string, max int) string {
	text = strings.TrimSpace(spaces.ReplaceAllString(text, " "))
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			next := i + utf8.RuneLen(r)
			if next == len(text) || text[next] == ' ' {
				text = text[:next]
				break
			}
		}
	}
	if max > 0 && utf8.RuneCountInString(text) > max {
		runes := []rune(text)
		text = strings.TrimSpace(string(runes[:max]))
	}
	return text
}
