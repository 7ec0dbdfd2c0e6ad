package record

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/neuroguard/neuroguard/pkg/apperrors"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"punctuation and case", "Synaptic BURST, encoding!", []string{"synaptic", "burst", "encoding"}},
		{"stop words dropped", "the pattern is in a burst", []string{"pattern", "burst"}},
		{"short tokens dropped", "a b cd 1 22", []string{"cd", "22"}},
		{"bits kept", "110010011001 - x", []string{"110010011001"}},
		{"han split", "神经ab", []string{"神", "经", "ab"}},
		{"empty", "", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokenize(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestKeywords_Deterministic(t *testing.T) {
	p := SampleInterpretation("Replay of a burst; burst again.")
	p.Features.Oscillating = true
	p.Features.LowConfidence = true
	p.Degraded = true
	p.Features.Metadata = map[string]string{"phase alignment": "Positive", "region": "CA3"}

	first := Keywords(p)
	for i := 0; i < 20; i++ {
		if got := Keywords(p); !reflect.DeepEqual(got, first) {
			t.Fatalf("keywords changed between calls: %v vs %v", got, first)
		}
	}
	for _, want := range []string{"burst", "oscillating", "low_confidence", "degraded", "polarity_positive", "ca3", "replay"} {
		if !contains(first, want) {
			t.Errorf("expected keyword %q in %v", want, first)
		}
	}
	for i := 1; i < len(first); i++ {
		if first[i-1] >= first[i] {
			t.Fatalf("keywords not sorted and unique: %v", first)
		}
	}
}

func TestKeywords_EvaluationAndAnalysis(t *testing.T) {
	eval := SampleEvaluation("Deploy stimulation protocol", 0.5)
	eval.CautionApplied = true
	kws := Keywords(eval)
	for _, want := range []string{"deploy", "stimulation", "protocol", "proceed_with_caution", "caution_applied", "rationale"} {
		if !contains(kws, want) {
			t.Errorf("expected %q in %v", want, kws)
		}
	}

	an := Keywords(SampleAnalysis())
	for _, want := range []string{"stable", "proceed", "safe_patterns"} {
		if !contains(an, want) {
			t.Errorf("expected %q in %v", want, an)
		}
	}
}

func TestNormalizeKeywords(t *testing.T) {
	got := NormalizeKeywords([]string{" Burst", "burst", "", "  ", "ALPHA"})
	if want := []string{"alpha", "burst"}; !reflect.DeepEqual(got, want) {
		t.Errorf("NormalizeKeywords = %v, want %v", got, want)
	}
	if got := NormalizeKeywords([]string{" "}); got != nil {
		t.Errorf("expected nil for blank keywords, got %v", got)
	}

	tests := []struct {
		in   []string
		want []string
	}{
		{[]string{"synaptic-burst"}, []string{"burst", "synaptic"}},
		{[]string{"Burst!"}, []string{"burst"}},
		{[]string{"Phase alignment: Positive"}, []string{"alignment", "phase", "positive"}},
		{[]string{"Low_Confidence", "polarity_positive"}, []string{"low_confidence", "polarity_positive"}},
		{[]string{"the"}, []string{"the"}},
	}
	for _, tt := range tests {
		if got := NormalizeKeywords(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("NormalizeKeywords(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeKeywords_MatchesStoredKeywords(t *testing.T) {
	stored := Keywords(SampleInterpretation("steady rhythm"))
	for _, q := range NormalizeKeywords([]string{"Synaptic-Burst!"}) {
		if !contains(stored, q) {
			t.Errorf("query term %q not among stored keywords %v", q, stored)
		}
	}
}

func TestRecommendationFor_Bands(t *testing.T) {
	tests := []struct {
		score float64
		want  Recommendation
	}{
		{1.0, Proceed},
		{0.70, Proceed},
		{0.6999, ProceedWithCaution},
		{0.40, ProceedWithCaution},
		{0.3999, DoNotProceed},
		{0.0, DoNotProceed},
	}
	for _, tt := range tests {
		if got := RecommendationFor(tt.score); got != tt.want {
			t.Errorf("RecommendationFor(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(string(k))
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %q, %v", k, got, err)
		}
	}
	if _, err := ParseKind("journal"); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestPayloadValidate(t *testing.T) {
	badScore := SampleEvaluation("act", 0.5)
	badScore.Frameworks[1].Score = 1.5

	dupFramework := SampleEvaluation("act", 0.5)
	dupFramework.Frameworks[2].Framework = FrameworkUtilitarian

	badRec := SampleEvaluation("act", 0.5)
	badRec.Recommendation = "maybe"

	noNodes := SampleAnalysis()
	noNodes.Snapshot.Nodes = nil

	badClass := SampleAnalysis()
	badClass.StabilityClass = "wobbly"

	tests := []struct {
		name  string
		p     Payload
		field string
	}{
		{"missing interpretation", SampleInterpretation("  "), "payload.interpretation"},
		{"missing action", SampleEvaluation("", 0.5), "payload.action"},
		{"score out of range", badScore, "payload.frameworks[1].score"},
		{"duplicate framework", dupFramework, "payload.frameworks[2].framework"},
		{"unknown recommendation", badRec, "payload.recommendation"},
		{"no nodes", noNodes, "payload.snapshot.nodes"},
		{"bad stability class", badClass, "payload.stability_class"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ve *apperrors.ValidationError
			if err := tt.p.Validate(); !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, ve.Field)
			}
		})
	}

	for _, ok := range []Payload{SampleInterpretation("fine"), SampleEvaluation("act", 0.9), SampleAnalysis()} {
		if err := ok.Validate(); err != nil {
			t.Errorf("%s: unexpected error %v", ok.Kind(), err)
		}
	}
}

func TestRecord_TypedDecoders(t *testing.T) {
	store := newTestStore(t, &fakeBackend{})
	ctx := context.Background()

	rec, err := store.Append(ctx, KindEthicsEvaluation, SampleEvaluation("act", 0.8))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	eval, err := rec.Evaluation()
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if eval.Recommendation != Proceed {
		t.Errorf("expected proceed, got %s", eval.Recommendation)
	}
	if _, err := rec.Interpretation(); err == nil {
		t.Error("expected kind mismatch error")
	}
	if _, err := rec.SystemAnalysis(); err == nil {
		t.Error("expected kind mismatch error")
	}
}

// fakeBackend is a minimal in-package backend with injectable failures.
type fakeBackend struct {
	mu        sync.Mutex
	recs      []*Record
	failNext  error
	lastIDErr error
}

func (f *fakeBackend) Commit(ctx context.Context, rec *Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.recs = append(f.recs, rec.Clone())
	return nil
}

func (f *fakeBackend) Get(ctx context.Context, id uint64) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.recs {
		if r.ID == id {
			return r.Clone(), nil
		}
	}
	return nil, &apperrors.NotFoundError{ID: id}
}

func (f *fakeBackend) Scan(ctx context.Context, q Query) ([]*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Record
	for i := len(f.recs) - 1; i >= 0; i-- {
		if q.Matches(f.recs[i]) {
			out = append(out, f.recs[i].Clone())
			if q.Limit > 0 && len(out) == q.Limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeBackend) LastID(ctx context.Context) (uint64, error) {
	if f.lastIDErr != nil {
		return 0, f.lastIDErr
	}
	if len(f.recs) == 0 {
		return 0, nil
	}
	return f.recs[len(f.recs)-1].ID, nil
}

func (f *fakeBackend) Count(ctx context.Context) (int, error) { return len(f.recs), nil }
func (f *fakeBackend) Close() error                           { return nil }

type recordingPublisher struct {
	mu   sync.Mutex
	recs []*Record
	err  error
}

func (p *recordingPublisher) PublishRecord(ctx context.Context, rec *Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recs = append(p.recs, rec)
	return p.err
}

type recordingMetrics struct {
	mu      sync.Mutex
	appends []string
	queries []string
	count   int
}

func (m *recordingMetrics) RecordAppend(kind, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appends = append(m.appends, kind+":"+status)
}

func (m *recordingMetrics) RecordQuery(op, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, op+":"+status)
}

func (m *recordingMetrics) SetRecordCount(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count = n
}

func newTestStore(t *testing.T, b Backend, opts ...Option) *Store {
	t.Helper()
	s, err := Open(context.Background(), b, opts...)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

func TestStore_CommitFailureIsStoreError(t *testing.T) {
	backend := &fakeBackend{}
	metrics := &recordingMetrics{}
	store := newTestStore(t, backend, WithMetrics(metrics))
	ctx := context.Background()

	backend.failNext = errors.New("disk full")
	_, err := store.Append(ctx, KindPatternInterpretation, SampleInterpretation("x"))
	var se *apperrors.StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	if se.ID != 1 || se.Op != "append" {
		t.Errorf("unexpected store error detail: %+v", se)
	}

	rec, err := store.Append(ctx, KindPatternInterpretation, SampleInterpretation("y"))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if rec.ID != 1 {
		t.Errorf("failed commit consumed an id: got %d", rec.ID)
	}
	want := []string{"pattern_interpretation:store", "pattern_interpretation:ok"}
	if !reflect.DeepEqual(metrics.appends, want) {
		t.Errorf("append metrics = %v, want %v", metrics.appends, want)
	}
	if metrics.count != 1 {
		t.Errorf("expected record count gauge 1, got %d", metrics.count)
	}
}

func TestStore_PublishesAfterCommit(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("bus down")}
	store := newTestStore(t, &fakeBackend{}, WithPublisher(pub))

	rec, err := store.Append(context.Background(), KindSystemAnalysis, SampleAnalysis())
	if err != nil {
		t.Fatalf("publish failure must not fail append: %v", err)
	}
	if len(pub.recs) != 1 || pub.recs[0].ID != rec.ID {
		t.Fatalf("expected one published record, got %d", len(pub.recs))
	}
}

func TestStore_CanceledContext(t *testing.T) {
	backend := &fakeBackend{}
	store := newTestStore(t, backend)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Append(ctx, KindPatternInterpretation, SampleInterpretation("x")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(backend.recs) != 0 {
		t.Error("canceled append reached the backend")
	}
}

func TestStore_ResumesFromLastID(t *testing.T) {
	backend := &fakeBackend{recs: []*Record{{ID: 41, Kind: KindSystemAnalysis}}}
	store := newTestStore(t, backend, WithClock(func() time.Time {
		return time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	}))

	rec, err := store.Append(context.Background(), KindSystemAnalysis, SampleAnalysis())
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if rec.ID != 42 {
		t.Errorf("expected id 42, got %d", rec.ID)
	}
	if rec.CreatedAt.Location() != time.UTC || rec.CreatedAt.Hour() != 11 {
		t.Errorf("expected UTC created_at, got %v", rec.CreatedAt)
	}
}

func TestStore_OpenFailure(t *testing.T) {
	_, err := Open(context.Background(), &fakeBackend{lastIDErr: errors.New("corrupt")})
	if !errors.Is(err, apperrors.ErrStore) {
		t.Fatalf("expected store error, got %v", err)
	}
	if _, err := Open(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil backend")
	}
}

func TestStore_GetNotFoundIsNotWrapped(t *testing.T) {
	store := newTestStore(t, &fakeBackend{})
	_, err := store.Get(context.Background(), 9)
	var nf *apperrors.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if errors.Is(err, apperrors.ErrStore) {
		t.Error("not found must not classify as a store error")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func ExampleKeywords() {
	p := &InterpretationPayload{
		Interpretation: "Rhythmic burst",
		Features:       PatternFeatures{Polarity: PolarityNegative, Burst: true},
	}
	fmt.Println(Keywords(p))
	// Output: [burst polarity_negative rhythmic]
}
