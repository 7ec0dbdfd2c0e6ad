package pattern

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroguard/neuroguard/pkg/apperrors"
	"github.com/neuroguard/neuroguard/pkg/record"
)

func TestDecode_ReferencePattern(t *testing.T) {
	f, err := Decode("110010011001 - Synaptic burst encoding - Phase alignment: Positive", DefaultDecodeConfig())
	require.NoError(t, err)

	assert.Equal(t, "110010011001", f.BitToken)
	assert.Equal(t, 12, f.BitLength)
	assert.Equal(t, 6, f.Ones)
	assert.InDelta(t, 0.5, f.Density, 1e-9)
	assert.Equal(t, 2, f.LongestRun)
	assert.Equal(t, 6, f.Transitions)
	assert.True(t, f.Burst)
	assert.True(t, f.Oscillating)
	assert.Equal(t, record.PolarityPositive, f.Polarity)
	assert.Equal(t, "Synaptic burst encoding", f.Label)
	assert.Equal(t, map[string]string{"phase alignment": "Positive"}, f.Metadata)
	assert.False(t, f.LowConfidence)
}

func TestDecode_Rules(t *testing.T) {
	cfg := DefaultDecodeConfig()
	tests := []struct {
		name    string
		pattern string
		check   func(t *testing.T, f Features)
	}{
		{
			name:    "empty pattern is low confidence",
			pattern: "   ",
			check: func(t *testing.T, f Features) {
				assert.True(t, f.LowConfidence)
				assert.Equal(t, record.PolarityUnknown, f.Polarity)
				assert.Zero(t, f.BitLength)
			},
		},
		{
			name:    "short bit token is low confidence",
			pattern: "1011",
			check: func(t *testing.T, f Features) {
				assert.True(t, f.LowConfidence)
				assert.Equal(t, 4, f.BitLength)
			},
		},
		{
			name:    "no bit token",
			pattern: "Gamma rhythm - Phase alignment: negative",
			check: func(t *testing.T, f Features) {
				assert.True(t, f.LowConfidence)
				assert.Equal(t, "Gamma rhythm", f.Label)
				assert.Equal(t, record.PolarityNegative, f.Polarity)
			},
		},
		{
			name:    "sparse steady bits",
			pattern: "10000000000000001",
			check: func(t *testing.T, f Features) {
				assert.False(t, f.Burst)
				assert.False(t, f.Oscillating)
				assert.False(t, f.LowConfidence)
			},
		},
		{
			name:    "alternating bits oscillate without burst",
			pattern: "1010101010",
			check: func(t *testing.T, f Features) {
				assert.True(t, f.Oscillating)
				assert.False(t, f.Burst)
				assert.Equal(t, 9, f.Transitions)
			},
		},
		{
			name:    "burst label forces burst",
			pattern: "1000000010000000 - Late burst",
			check: func(t *testing.T, f Features) {
				assert.True(t, f.Burst)
			},
		},
		{
			name:    "empty segment lowers confidence",
			pattern: "1100110011 -   - Neutral",
			check: func(t *testing.T, f Features) {
				assert.True(t, f.LowConfidence)
			},
		},
		{
			name:    "empty metadata value lowers confidence",
			pattern: "1100110011 - Zone:",
			check: func(t *testing.T, f Features) {
				assert.True(t, f.LowConfidence)
				assert.Empty(t, f.Metadata)
			},
		},
		{
			name:    "text after bits is part of the label",
			pattern: "11001100 spindle - Polarity: Neutral",
			check: func(t *testing.T, f Features) {
				assert.Equal(t, "spindle", f.Label)
				assert.Equal(t, record.PolarityNeutral, f.Polarity)
				assert.False(t, f.LowConfidence)
			},
		},
		{
			name:    "unknown polarity value",
			pattern: "11001100 - Phase Alignment: sideways",
			check: func(t *testing.T, f Features) {
				assert.Equal(t, record.PolarityUnknown, f.Polarity)
				assert.Equal(t, "sideways", f.Metadata["phase alignment"])
			},
		},
		{
			name:    "hyphenated words are not separators",
			pattern: "11110000 - high-frequency burst",
			check: func(t *testing.T, f Features) {
				assert.Equal(t, "high-frequency burst", f.Label)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode(tt.pattern, cfg)
			require.NoError(t, err)
			tt.check(t, f)
		})
	}
}

func TestDecode_RejectsNonTokenStreams(t *testing.T) {
	cfg := DefaultDecodeConfig()
	cfg.MaxPatternLength = 64

	for name, pattern := range map[string]string{
		"invalid utf8": "1100\xff\xfe",
		"control char": "1100\x00",
		"escape":       "1100 \x1b[31m",
		"too long":     strings.Repeat("1", 65),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(pattern, cfg)
			var ve *apperrors.ValidationError
			require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
			assert.Equal(t, "pattern", ve.Field)
		})
	}

	_, err := Decode("1100\t1100\n - tabbed", cfg)
	assert.NoError(t, err)
}

func TestDecode_Deterministic(t *testing.T) {
	p := "0110110 - x - Phase alignment: Positive - Region: CA1"
	first, err := Decode(p, DefaultDecodeConfig())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Decode(p, DefaultDecodeConfig())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestFeatureSummary(t *testing.T) {
	f, err := Decode("110010011001 - Synaptic burst encoding - Phase alignment: Positive", DefaultDecodeConfig())
	require.NoError(t, err)

	s := FeatureSummary(f)
	assert.Equal(t, `Feature-only interpretation: 12-bit sequence with 6 active bits (density 0.50, longest run 2, 6 transitions); burst activity, oscillating activity, positive phase alignment; labeled "Synaptic burst encoding".`, s)

	empty := FeatureSummary(Features{Polarity: record.PolarityUnknown, LowConfidence: true})
	assert.Equal(t, "Feature-only interpretation: no bit sequence detected; low confidence decode.", empty)
}

func TestFirstSentence(t *testing.T) {
	assert.Equal(t, "Burst encodes reward.", FirstSentence("Burst encodes reward. Second sentence.", 160))
	assert.Equal(t, "Density 0.50 is typical.", FirstSentence("Density 0.50 is typical. More.", 160))
	assert.Equal(t, "no terminator", FirstSentence("  no   terminator ", 160))
	assert.Equal(t, "abcde", FirstSentence("abcdefgh", 5))
	assert.Equal(t, "", FirstSentence("", 5))
}
