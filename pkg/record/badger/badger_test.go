package badger

import (
	"context"
	"testing"

	"github.com/neuroguard/neuroguard/pkg/record"
)

func openTestBackend(t *testing.T, dir string) *Backend {
	t.Helper()
	b, err := Open(&Config{
		Path:              dir,
		SyncWrites:        true,
		ValueLogFileSize:  1 << 20,
		NumVersionsToKeep: 1,
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return b
}

// TestBadgerBackendSuite runs the record conformance suite against Backend.
func TestBadgerBackendSuite(t *testing.T) {
	suite := &record.BackendTestSuite{
		Open: func(t *testing.T, dir string) record.Backend {
			return openTestBackend(t, dir)
		},
		Durable: true,
	}
	suite.RunAllTests(t)
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(&Config{}); err == nil {
		t.Error("expected error for empty path")
	}
	if _, err := Open(nil); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestCommit_WritesIndexes(t *testing.T) {
	b := openTestBackend(t, t.TempDir())
	defer b.Close()
	ctx := context.Background()

	rec := &record.Record{
		ID:       7,
		Kind:     record.KindEthicsEvaluation,
		Payload:  []byte(`{"action":"x"}`),
		Keywords: []string{"caution", "proceed_with_caution"},
	}
	if err := b.Commit(ctx, rec); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	for _, kw := range rec.Keywords {
		got, err := b.Scan(ctx, record.Query{Keywords: []string{kw}})
		if err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		if len(got) != 1 || got[0].ID != 7 {
			t.Errorf("keyword %q: expected record 7, got %d records", kw, len(got))
		}
	}

	got, err := b.Scan(ctx, record.Query{Kind: record.KindEthicsEvaluation})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected kind index hit, got %d records", len(got))
	}

	last, err := b.LastID(ctx)
	if err != nil {
		t.Fatalf("LastID failed: %v", err)
	}
	if last != 7 {
		t.Errorf("expected last id 7, got %d", last)
	}
}

func TestParseIDSuffix(t *testing.T) {
	id, err := parseIDSuffix(append(kindIndexPrefix(record.KindSystemAnalysis), idSuffix(123)...))
	if err != nil {
		t.Fatalf("parseIDSuffix failed: %v", err)
	}
	if id != 123 {
		t.Errorf("expected 123, got %d", id)
	}
	if _, err := parseIDSuffix([]byte("short")); err == nil {
		t.Error("expected error for short key")
	}
}
