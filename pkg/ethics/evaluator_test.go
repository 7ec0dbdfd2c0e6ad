package ethics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroguard/neuroguard/pkg/apperrors"
	"github.com/neuroguard/neuroguard/pkg/completion"
	"github.com/neuroguard/neuroguard/pkg/record"
	"github.com/neuroguard/neuroguard/pkg/record/memory"
)

// frameworkCompleter replies per framework, detected from the prompt.
func frameworkCompleter(replies map[string]string, failing ...string) completion.Completer {
	return completion.CompleterFunc(func(ctx context.Context, prompt string, temperature float64) (string, error) {
		for _, f := range failing {
			if strings.Contains(prompt, "the "+f+" perspective") {
				return "", errors.New("upstream timeout")
			}
		}
		for f, reply := range replies {
			if strings.Contains(prompt, "the "+f+" perspective") {
				return reply, nil
			}
		}
		return "", errors.New("unexpected prompt")
	})
}

func uniform(score string) map[string]string {
	reply := fmt.Sprintf(`{"score": %s, "rationale": "fine"}`, score)
	return map[string]string{
		record.FrameworkUtilitarian:   reply,
		record.FrameworkDeontological: reply,
		record.FrameworkVirtue:        reply,
	}
}

func newEvaluator(t *testing.T, c completion.Completer) (*Evaluator, *record.Store) {
	t.Helper()
	store, err := record.Open(context.Background(), memory.New())
	require.NoError(t, err)
	return NewEvaluator(store, c, DefaultConfig(), nil), store
}

func TestEvaluateEthics_BandBoundaries(t *testing.T) {
	tests := []struct {
		score string
		want  record.Recommendation
	}{
		{"0.70", record.Proceed},
		{"0.6999", record.ProceedWithCaution},
		{"0.40", record.ProceedWithCaution},
		{"0.3999", record.DoNotProceed},
		{"1", record.Proceed},
		{"0", record.DoNotProceed},
	}
	for _, tt := range tests {
		t.Run(tt.score, func(t *testing.T) {
			ev, _ := newEvaluator(t, frameworkCompleter(uniform(tt.score)))
			res, err := ev.EvaluateEthics(context.Background(), "publish the findings")
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Recommendation)
			assert.False(t, res.Degraded)
		})
	}
}

func TestEvaluateEthics_MeanOfFrameworks(t *testing.T) {
	ev, store := newEvaluator(t, frameworkCompleter(map[string]string{
		record.FrameworkUtilitarian:   `{"score": 0.9, "rationale": "helps many"}`,
		record.FrameworkDeontological: "```json\n{\"score\": \"0.6\", \"rationale\": [\"consent\", \"obtained\"]}\n```",
		record.FrameworkVirtue:        "I would say score: 0.3 because it is rash.",
	}))

	res, err := ev.EvaluateEthics(context.Background(), "stimulate region CA1")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, res.Alignment, 1e-9)
	assert.Equal(t, record.ProceedWithCaution, res.Recommendation)
	assert.False(t, res.Degraded)

	require.Len(t, res.Payload.Frameworks, 3)
	assert.Equal(t, record.Frameworks[0], res.Payload.Frameworks[0].Framework)
	assert.Equal(t, "consent, obtained", res.Payload.Frameworks[1].Rationale)

	stored, err := store.Get(context.Background(), res.Record.ID)
	require.NoError(t, err)
	eval, err := stored.Evaluation()
	require.NoError(t, err)
	assert.Equal(t, "stimulate region CA1", eval.Action)
}

func TestEvaluateEthics_MissingScoreCountsAsZero(t *testing.T) {
	replies := uniform("0.9")
	replies[record.FrameworkVirtue] = "I cannot answer that."
	ev, _ := newEvaluator(t, frameworkCompleter(replies, record.FrameworkDeontological))

	res, err := ev.EvaluateEthics(context.Background(), "act")
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.InDelta(t, 0.3, res.Alignment, 1e-9)
	assert.Equal(t, record.DoNotProceed, res.Recommendation)

	for _, fs := range res.Payload.Frameworks {
		if fs.Framework == record.FrameworkUtilitarian {
			assert.False(t, fs.Degraded)
			continue
		}
		assert.True(t, fs.Degraded, fs.Framework)
		assert.Zero(t, fs.Score, fs.Framework)
		assert.True(t, strings.HasPrefix(fs.Rationale, "score unavailable"), fs.Rationale)
	}
}

func TestEvaluateEthics_OutOfRangeScoreIsDegraded(t *testing.T) {
	replies := uniform("0.9")
	replies[record.FrameworkUtilitarian] = `{"score": 7, "rationale": "very good"}`
	ev, _ := newEvaluator(t, frameworkCompleter(replies))

	res, err := ev.EvaluateEthics(context.Background(), "act")
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.InDelta(t, 0.6, res.Alignment, 1e-9)
}

func TestEvaluateEthics_CollaboratorUnavailable(t *testing.T) {
	ev, _ := newEvaluator(t, completion.Unavailable())

	res, err := ev.EvaluateEthics(context.Background(), "act")
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Zero(t, res.Alignment)
	assert.Equal(t, record.DoNotProceed, res.Recommendation)
	assert.Contains(t, res.Record.Keywords, "degraded")
}

func TestEvaluate_CautionLowersProceed(t *testing.T) {
	ev, _ := newEvaluator(t, frameworkCompleter(uniform("0.95")))

	res, err := ev.Evaluate(context.Background(), Request{Action: "act", SubjectRecordID: 12, Caution: true})
	require.NoError(t, err)
	assert.Equal(t, record.ProceedWithCaution, res.Recommendation)
	assert.True(t, res.Payload.CautionApplied)
	assert.InDelta(t, 0.95, res.Alignment, 1e-9, "caution never alters alignment")
	assert.Equal(t, uint64(12), res.Payload.SubjectRecordID)

	res, err = ev.Evaluate(context.Background(), Request{Action: "act", Caution: true})
	require.NoError(t, err)
	assert.True(t, res.Payload.CautionApplied)

	low, _ := newEvaluator(t, frameworkCompleter(uniform("0.1")))
	res, err = low.Evaluate(context.Background(), Request{Action: "act", Caution: true})
	require.NoError(t, err)
	assert.Equal(t, record.DoNotProceed, res.Recommendation)
	assert.False(t, res.Payload.CautionApplied)
}

func TestEvaluateEthics_Validation(t *testing.T) {
	ev, store := newEvaluator(t, frameworkCompleter(uniform("0.9")))
	_, err := ev.EvaluateEthics(context.Background(), "  ")
	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "action", ve.Field)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEvaluateEthics_Canceled(t *testing.T) {
	slow := completion.CompleterFunc(func(ctx context.Context, prompt string, temperature float64) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
			return `{"score": 1}`, nil
		}
	})
	ev, store := newEvaluator(t, slow)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := ev.EvaluateEthics(ctx, "act")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "canceled evaluation must not be persisted")
}

func TestAggregate(t *testing.T) {
	scores := func(v ...float64) []record.FrameworkScore {
		out := make([]record.FrameworkScore, len(v))
		for i, s := range v {
			out[i].Score = s
		}
		return out
	}
	assert.Equal(t, 0.7, Aggregate(scores(0.7, 0.7, 0.7)))
	assert.Equal(t, 0.6999, Aggregate(scores(0.6999, 0.6999, 0.6999)))
	assert.Equal(t, Aggregate(scores(0.1, 0.5, 0.9)), Aggregate(scores(0.1, 0.5, 0.9)))
	assert.Zero(t, Aggregate(nil))
}
