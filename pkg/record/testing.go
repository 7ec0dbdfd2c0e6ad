package record

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/neuroguard/neuroguard/pkg/apperrors"
)

// BackendTestSuite runs the Store conformance tests against a Backend
// implementation.
type BackendTestSuite struct {
	// Open returns a backend rooted at dir. Durable backends must see the
	// records committed by an earlier backend opened on the same dir.
	Open func(t *testing.T, dir string) Backend

	// Durable enables the reopen tests.
	Durable bool
}

// RunAllTests runs every conformance test.
func (s *BackendTestSuite) RunAllTests(t *testing.T) {
	t.Run("MonotonicIDs", s.TestMonotonicIDs)
	t.Run("GetRoundTrip", s.TestGetRoundTrip)
	t.Run("GetNotFound", s.TestGetNotFound)
	t.Run("SearchByKind", s.TestSearchByKind)
	t.Run("SearchKeywords", s.TestSearchKeywords)
	t.Run("SearchLimitAndStability", s.TestSearchLimitAndStability)
	t.Run("SearchValidation", s.TestSearchValidation)
	t.Run("RecentContext", s.TestRecentContext)
	t.Run("AppendValidation", s.TestAppendValidation)
	t.Run("DuplicateCommit", s.TestDuplicateCommit)
	t.Run("ConcurrentAppend", s.TestConcurrentAppend)
	if s.Durable {
		t.Run("Reopen", s.TestReopen)
	}
}

func (s *BackendTestSuite) openStore(t *testing.T, dir string) *Store {
	t.Helper()
	store, err := Open(context.Background(), s.Open(t, dir))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return store
}

// SampleInterpretation returns a valid interpretation payload for tests.
func SampleInterpretation(text string) *InterpretationPayload {
	return &InterpretationPayload{
		Pattern: "110010011001 - Synaptic burst encoding - Phase alignment: Positive",
		Features: PatternFeatures{
			BitToken:  "110010011001",
			BitLength: 12,
			Ones:      6,
			Density:   0.5,
			Burst:     true,
			Polarity:  PolarityPositive,
			Label:     "Synaptic burst encoding",
		},
		Interpretation:   text,
		ContextRecordIDs: []uint64{},
	}
}

// SampleEvaluation returns a valid evaluation payload for tests.
func SampleEvaluation(action string, score float64) *EvaluationPayload {
	frameworks := make([]FrameworkScore, 0, len(Frameworks))
	for _, f := range Frameworks {
		frameworks = append(frameworks, FrameworkScore{Framework: f, Score: score, Rationale: f + " rationale"})
	}
	return &EvaluationPayload{
		Action:         action,
		Frameworks:     frameworks,
		Alignment:      score,
		Recommendation: RecommendationFor(score),
	}
}

// SampleAnalysis returns a valid system analysis payload for tests.
func SampleAnalysis() *SystemAnalysisPayload {
	return &SystemAnalysisPayload{
		Snapshot: SystemSnapshot{
			Nodes:          []string{"A", "B"},
			Edges:          [][]string{{"A", "B"}},
			Activation:     map[string]float64{"A": 0.9, "B": 0.8},
			StabilityIndex: Index(0.75),
		},
		StabilityClass:      StabilityStable,
		Stable:              true,
		SafePatterns:        [][]string{{"A", "B"}},
		ActivationThreshold: 0.5,
		StabilityThreshold:  0.5,
		Recommendation:      Proceed,
	}
}

// TestMonotonicIDs checks ids are unique and strictly increasing in call order.
func (s *BackendTestSuite) TestMonotonicIDs(t *testing.T) {
	store := s.openStore(t, t.TempDir())
	defer store.Close()
	ctx := context.Background()

	var prev uint64
	for i := 0; i < 10; i++ {
		var p Payload = SampleInterpretation(fmt.Sprintf("interpretation %d", i))
		if i%3 == 1 {
			p = SampleEvaluation(fmt.Sprintf("action %d", i), 0.5)
		}
		rec, err := store.Append(ctx, p.Kind(), p)
		if err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
		if rec.ID <= prev {
			t.Fatalf("id %d not greater than previous %d", rec.ID, prev)
		}
		prev = rec.ID
	}
	if prev != 10 {
		t.Errorf("expected last id 10, got %d", prev)
	}
	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 10 {
		t.Errorf("expected 10 records, got %d", n)
	}
}

// TestGetRoundTrip checks the stored payload is byte-for-byte the appended one.
func (s *BackendTestSuite) TestGetRoundTrip(t *testing.T) {
	store := s.openStore(t, t.TempDir())
	defer store.Close()
	ctx := context.Background()

	payload := SampleInterpretation("Burst encoding with positive phase alignment.")
	payload.Features.Metadata = map[string]string{"phase alignment": "Positive", "zone": "CA1"}
	want, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	rec, err := store.Append(ctx, KindPatternInterpretation, payload)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got.Payload, want) {
		t.Errorf("payload mismatch:\n got %s\nwant %s", got.Payload, want)
	}
	if got.Kind != KindPatternInterpretation {
		t.Errorf("expected kind %s, got %s", KindPatternInterpretation, got.Kind)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("created_at mismatch: %v vs %v", got.CreatedAt, rec.CreatedAt)
	}
	if got.CreatedAt.Location().String() != "UTC" {
		t.Errorf("expected UTC created_at, got %v", got.CreatedAt.Location())
	}
	if fmt.Sprint(got.Keywords) != fmt.Sprint(Keywords(payload)) {
		t.Errorf("keywords mismatch: %v vs %v", got.Keywords, Keywords(payload))
	}

	decoded, err := got.Interpretation()
	if err != nil {
		t.Fatalf("Interpretation decode failed: %v", err)
	}
	if decoded.Interpretation != payload.Interpretation {
		t.Errorf("expected interpretation %q, got %q", payload.Interpretation, decoded.Interpretation)
	}
}

// TestGetNotFound checks unknown ids return NotFoundError.
func (s *BackendTestSuite) TestGetNotFound(t *testing.T) {
	store := s.openStore(t, t.TempDir())
	defer store.Close()

	_, err := store.Get(context.Background(), 42)
	var nf *apperrors.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if nf.ID != 42 {
		t.Errorf("expected id 42 in error, got %d", nf.ID)
	}
}

// TestSearchByKind checks an empty keyword set returns every record of the kind.
func (s *BackendTestSuite) TestSearchByKind(t *testing.T) {
	store := s.openStore(t, t.TempDir())
	defer store.Close()
	ctx := context.Background()

	var interpretations []uint64
	for i := 0; i < 6; i++ {
		if i%2 == 0 {
			rec, err := store.Append(ctx, KindPatternInterpretation, SampleInterpretation(fmt.Sprintf("reading %d", i)))
			if err != nil {
				t.Fatalf("Append failed: %v", err)
			}
			interpretations = append(interpretations, rec.ID)
			continue
		}
		if _, err := store.Append(ctx, KindSystemAnalysis, SampleAnalysis()); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	recs, err := store.Search(ctx, Query{Kind: KindPatternInterpretation})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(recs) != len(interpretations) {
		t.Fatalf("expected %d records, got %d", len(interpretations), len(recs))
	}
	for i, rec := range recs {
		want := interpretations[len(interpretations)-1-i]
		if rec.ID != want {
			t.Errorf("position %d: expected id %d, got %d", i, want, rec.ID)
		}
	}

	all, err := store.Search(ctx, Query{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(all) != 6 || all[0].ID != 6 || all[5].ID != 1 {
		t.Errorf("expected all 6 records most recent first, got %d records", len(all))
	}
}

// TestSearchKeywords checks case-insensitive intersection matching.
func (s *BackendTestSuite) TestSearchKeywords(t *testing.T) {
	store := s.openStore(t, t.TempDir())
	defer store.Close()
	ctx := context.Background()

	first, err := store.Append(ctx, KindPatternInterpretation, SampleInterpretation("Hippocampal replay detected"))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	second, err := store.Append(ctx, KindEthicsEvaluation, SampleEvaluation("stimulate cortex", 0.2))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	recs, err := store.Search(ctx, Query{Keywords: []string{"  REPLAY ", "cortex"}})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != second.ID || recs[1].ID != first.ID {
		t.Fatalf("expected both records most recent first, got %v", ids(recs))
	}

	recs, err = store.Search(ctx, Query{Kind: KindEthicsEvaluation, Keywords: []string{"replay"}})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("expected no records, got %v", ids(recs))
	}

	recs, err = store.Search(ctx, Query{Keywords: []string{string(DoNotProceed)}})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != second.ID {
		t.Errorf("expected recommendation tag match, got %v", ids(recs))
	}

	recs, err = store.Search(ctx, Query{Keywords: []string{"absent"}})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("expected no records, got %v", ids(recs))
	}
}

// TestSearchLimitAndStability checks limit bounding and repeatable ordering.
func (s *BackendTestSuite) TestSearchLimitAndStability(t *testing.T) {
	store := s.openStore(t, t.TempDir())
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := store.Append(ctx, KindPatternInterpretation, SampleInterpretation("burst reading")); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	q := Query{Kind: KindPatternInterpretation, Keywords: []string{"burst"}, Limit: 3}
	first, err := store.Search(ctx, q)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if got := ids(first); fmt.Sprint(got) != "[5 4 3]" {
		t.Fatalf("expected [5 4 3], got %v", got)
	}
	second, err := store.Search(ctx, q)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if fmt.Sprint(ids(first)) != fmt.Sprint(ids(second)) {
		t.Errorf("search not stable: %v vs %v", ids(first), ids(second))
	}
}

// TestSearchValidation checks malformed queries are rejected.
func (s *BackendTestSuite) TestSearchValidation(t *testing.T) {
	store := s.openStore(t, t.TempDir())
	defer store.Close()
	ctx := context.Background()

	if _, err := store.Search(ctx, Query{Limit: -1}); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected validation error for negative limit, got %v", err)
	}
	if _, err := store.Search(ctx, Query{Kind: "diary"}); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected validation error for unknown kind, got %v", err)
	}
}

// TestRecentContext checks count bounds and ordering.
func (s *BackendTestSuite) TestRecentContext(t *testing.T) {
	store := s.openStore(t, t.TempDir())
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := store.Append(ctx, KindPatternInterpretation, SampleInterpretation(fmt.Sprintf("reading %d", i))); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if _, err := store.Append(ctx, KindEthicsEvaluation, SampleEvaluation("act", 0.8)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	recs, err := store.RecentContext(ctx, KindPatternInterpretation, 0)
	if err != nil {
		t.Fatalf("RecentContext failed: %v", err)
	}
	if recs == nil || len(recs) != 0 {
		t.Errorf("expected empty non-nil slice for count 0, got %v", recs)
	}

	recs, err = store.RecentContext(ctx, KindPatternInterpretation, 2)
	if err != nil {
		t.Fatalf("RecentContext failed: %v", err)
	}
	if got := fmt.Sprint(ids(recs)); got != "[7 5]" {
		t.Errorf("expected [7 5], got %s", got)
	}

	recs, err = store.RecentContext(ctx, KindEthicsEvaluation, 10)
	if err != nil {
		t.Fatalf("RecentContext failed: %v", err)
	}
	if len(recs) != 4 {
		t.Errorf("expected 4 records, got %d", len(recs))
	}

	if _, err := store.RecentContext(ctx, KindPatternInterpretation, -1); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

// TestAppendValidation checks incomplete payloads are rejected without
// consuming an id.
func (s *BackendTestSuite) TestAppendValidation(t *testing.T) {
	store := s.openStore(t, t.TempDir())
	defer store.Close()
	ctx := context.Background()

	_, err := store.Append(ctx, KindPatternInterpretation, SampleInterpretation(""))
	var ve *apperrors.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Field != "payload.interpretation" {
		t.Errorf("expected field payload.interpretation, got %s", ve.Field)
	}

	if _, err := store.Append(ctx, KindEthicsEvaluation, SampleInterpretation("x")); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected kind mismatch validation error, got %v", err)
	}

	bad := SampleEvaluation("act", 0.5)
	bad.Frameworks = bad.Frameworks[:2]
	if _, err := store.Append(ctx, KindEthicsEvaluation, bad); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected framework count validation error, got %v", err)
	}

	rec, err := store.Append(ctx, KindPatternInterpretation, SampleInterpretation("valid"))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if rec.ID != 1 {
		t.Errorf("rejected appends must not consume ids, got id %d", rec.ID)
	}
}

// TestDuplicateCommit checks the backend refuses to overwrite a record.
func (s *BackendTestSuite) TestDuplicateCommit(t *testing.T) {
	backend := s.Open(t, t.TempDir())
	defer backend.Close()
	ctx := context.Background()

	store, err := Open(ctx, backend)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	rec, err := store.Append(ctx, KindSystemAnalysis, SampleAnalysis())
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	dup := rec.Clone()
	dup.Payload = json.RawMessage(`{"overwritten":true}`)
	if err := backend.Commit(ctx, dup); err == nil {
		t.Fatal("expected duplicate commit to fail")
	}
	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got.Payload, rec.Payload) {
		t.Errorf("record was mutated: %s", got.Payload)
	}
}

// TestConcurrentAppend checks concurrent appends never share an id.
func (s *BackendTestSuite) TestConcurrentAppend(t *testing.T) {
	store := s.openStore(t, t.TempDir())
	defer store.Close()
	ctx := context.Background()

	const workers, perWorker = 8, 5
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[uint64]bool)
		errs = make(chan error, workers*perWorker)
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				rec, err := store.Append(ctx, KindPatternInterpretation, SampleInterpretation(fmt.Sprintf("worker %d item %d", w, i)))
				if err != nil {
					errs <- err
					return
				}
				mu.Lock()
				if seen[rec.ID] {
					errs <- fmt.Errorf("duplicate id %d", rec.ID)
				}
				seen[rec.ID] = true
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	for id := uint64(1); id <= workers*perWorker; id++ {
		if !seen[id] {
			t.Errorf("id %d never assigned", id)
		}
	}
}

// TestReopen checks committed records survive a restart and ids resume.
func (s *BackendTestSuite) TestReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store := s.openStore(t, dir)
	for i := 0; i < 3; i++ {
		if _, err := store.Append(ctx, KindPatternInterpretation, SampleInterpretation(fmt.Sprintf("reading %d", i))); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := s.openStore(t, dir)
	defer reopened.Close()

	recs, err := reopened.Search(ctx, Query{Kind: KindPatternInterpretation})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records after reopen, got %d", len(recs))
	}
	rec, err := reopened.Append(ctx, KindPatternInterpretation, SampleInterpretation("after restart"))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if rec.ID != 4 {
		t.Errorf("expected id 4 after reopen, got %d", rec.ID)
	}
}

func ids(recs []*Record) []uint64 {
	out := make([]uint64, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
