package memory

import (
	"context"
	"testing"

	"github.com/neuroguard/neuroguard/pkg/record"
)

// TestMemoryBackendSuite runs the record conformance suite against Backend.
func TestMemoryBackendSuite(t *testing.T) {
	suite := &record.BackendTestSuite{
		Open: func(t *testing.T, dir string) record.Backend {
			return New()
		},
	}
	suite.RunAllTests(t)
}

func TestBackend_ReturnsCopies(t *testing.T) {
	b := New()
	ctx := context.Background()

	rec := &record.Record{ID: 1, Kind: record.KindSystemAnalysis, Payload: []byte(`{"a":1}`), Keywords: []string{"stable"}}
	if err := b.Commit(ctx, rec); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	rec.Payload[0] = 'X'
	rec.Keywords[0] = "mutated"

	got, err := b.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Payload) != `{"a":1}` {
		t.Errorf("stored payload aliased caller bytes: %s", got.Payload)
	}
	if got.Keywords[0] != "stable" {
		t.Errorf("stored keywords aliased caller slice: %v", got.Keywords)
	}

	got.Payload[0] = 'Y'
	again, _ := b.Get(ctx, 1)
	if string(again.Payload) != `{"a":1}` {
		t.Errorf("Get returned shared bytes: %s", again.Payload)
	}
}

func TestBackend_RejectsOutOfOrder(t *testing.T) {
	b := New()
	ctx := context.Background()

	if err := b.Commit(ctx, &record.Record{ID: 5, Kind: record.KindSystemAnalysis}); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := b.Commit(ctx, &record.Record{ID: 3, Kind: record.KindSystemAnalysis}); err == nil {
		t.Error("expected out-of-order commit to fail")
	}
}

func TestBackend_CommitAfterClose(t *testing.T) {
	b := New()
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := b.Commit(context.Background(), &record.Record{ID: 1, Kind: record.KindSystemAnalysis}); err == nil {
		t.Error("expected commit on closed backend to fail")
	}
}
