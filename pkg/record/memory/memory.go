// Package memory provides an in-memory record backend for tests and
// ephemeral runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/neuroguard/neuroguard/pkg/apperrors"
	"github.com/neuroguard/neuroguard/pkg/record"
)

// Backend keeps records in an id-ordered slice.
type Backend struct {
	mu      sync.RWMutex
	records []*record.Record
	byID    map[uint64]*record.Record
	closed  bool
}

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{byID: make(map[uint64]*record.Record)}
}

var _ record.Backend = (*Backend)(nil)

// Commit stores a deep copy of rec.
func (b *Backend) Commit(ctx context.Context, rec *record.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("memory backend closed")
	}
	if _, exists := b.byID[rec.ID]; exists {
		return fmt.Errorf("record %d already exists", rec.ID)
	}
	if n := len(b.records); n > 0 && b.records[n-1].ID >= rec.ID {
		return fmt.Errorf("record %d out of order after %d", rec.ID, b.records[n-1].ID)
	}
	copied := rec.Clone()
	b.records = append(b.records, copied)
	b.byID[rec.ID] = copied
	return nil
}

// Get returns a copy of the record with id.
func (b *Backend) Get(ctx context.Context, id uint64) (*record.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.byID[id]
	if !ok {
		return nil, &apperrors.NotFoundError{ID: id}
	}
	return rec.Clone(), nil
}

// Scan walks records newest first.
func (b *Backend) Scan(ctx context.Context, q record.Query) ([]*record.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*record.Record, 0)
	for i := len(b.records) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec := b.records[i]
		if !q.Matches(rec) {
			continue
		}
		out = append(out, rec.Clone())
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// LastID returns the highest stored id.
func (b *Backend) LastID(ctx context.Context) (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.records) == 0 {
		return 0, nil
	}
	return b.records[len(b.records)-1].ID, nil
}

// Count returns the number of stored records.
func (b *Backend) Count(ctx context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records), nil
}

// Close marks the backend closed. Stored records remain readable.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
