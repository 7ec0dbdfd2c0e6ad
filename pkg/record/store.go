package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/neuroguard/neuroguard/pkg/apperrors"
	"github.com/neuroguard/neuroguard/pkg/logger"
)

// Backend persists committed records. Implementations must make Commit
// atomic: after a crash either the whole record with its index entries is
// visible or none of it is.
type Backend interface {
	// Commit durably writes rec. It fails if rec.ID already exists.
	Commit(ctx context.Context, rec *Record) error

	// Get returns the record with id or *apperrors.NotFoundError.
	Get(ctx context.Context, id uint64) (*Record, error)

	// Scan returns records matching a normalized query, ordered by
	// descending id and bounded by q.Limit when positive.
	Scan(ctx context.Context, q Query) ([]*Record, error)

	// LastID returns the highest committed id, or 0 for an empty store.
	LastID(ctx context.Context) (uint64, error)

	// Count returns the number of committed records.
	Count(ctx context.Context) (int, error)

	Close() error
}

// Publisher is notified after every successful append.
type Publisher interface {
	PublishRecord(ctx context.Context, rec *Record) error
}

// MetricsRecorder records store metrics.
type MetricsRecorder interface {
	RecordAppend(kind string, status string, duration time.Duration)
	RecordQuery(op string, status string, duration time.Duration)
	SetRecordCount(count int)
}

type nopMetricsRecorder struct{}

func (nopMetricsRecorder) RecordAppend(string, string, time.Duration) {}
func (nopMetricsRecorder) RecordQuery(string, string, time.Duration)  {}
func (nopMetricsRecorder) SetRecordCount(int)                         {}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPublisher sets the record-appended publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Store) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Store) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is the append-only record store. Appends are serialized so ids are
// strictly increasing; reads go straight to the backend and run
// concurrently.
type Store struct {
	backend   Backend
	logger    logger.Logger
	publisher Publisher
	metrics   MetricsRecorder
	now       func() time.Time

	mu     sync.Mutex
	lastID uint64
	count  int
}

// Open wraps backend in a Store, resuming id assignment after the highest
// committed id.
func Open(ctx context.Context, backend Backend, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.New("record: backend is required")
	}
	s := &Store{
		backend: backend,
		logger:  logger.Nop(),
		metrics: nopMetricsRecorder{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	last, err := backend.LastID(ctx)
	if err != nil {
		return nil, &apperrors.StoreError{Op: "open", Cause: err}
	}
	count, err := backend.Count(ctx)
	if err != nil {
		return nil, &apperrors.StoreError{Op: "open", Cause: err}
	}
	s.lastID = last
	s.count = count
	s.metrics.SetRecordCount(count)
	s.logger.Debug("record store opened", "last_id", last, "records", count)
	return s, nil
}

// Append validates payload against kind, assigns id and created_at, derives
// keywords, and durably commits the record before returning it.
func (s *Store) Append(ctx context.Context, kind Kind, payload Payload) (*Record, error) {
	start := time.Now()
	rec, err := s.append(ctx, kind, payload)
	s.metrics.RecordAppend(string(kind), apperrors.Status(err), time.Since(start))
	if err != nil {
		return nil, err
	}

	if s.publisher != nil {
		if perr := s.publisher.PublishRecord(ctx, rec.Clone()); perr != nil {
			s.logger.WarnContext(ctx, "record event publish failed",
				"record_id", rec.ID, "kind", rec.Kind, "error", perr)
		}
	}
	return rec, nil
}

func (s *Store) append(ctx context.Context, kind Kind, payload Payload) (*Record, error) {
	if !kind.Valid() {
		return nil, apperrors.Validation("kind", fmt.Sprintf("must be one of %v", Kinds), string(kind))
	}
	if payload == nil {
		return nil, apperrors.Validation("payload", "is required", nil)
	}
	if payload.Kind() != kind {
		return nil, apperrors.Validation("payload",
			fmt.Sprintf("payload of kind %s cannot be stored as %s", payload.Kind(), kind), string(payload.Kind()))
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Validation("payload", "not serializable: "+err.Error(), nil)
	}
	keywords := Keywords(payload)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &Record{
		ID:        s.lastID + 1,
		Kind:      kind,
		CreatedAt: s.now().UTC(),
		Payload:   data,
		Keywords:  keywords,
	}
	if err := s.backend.Commit(ctx, rec); err != nil {
		s.logger.ErrorContext(ctx, "record commit failed", "record_id", rec.ID, "kind", kind, "error", err)
		return nil, &apperrors.StoreError{Op: "append", ID: rec.ID, Cause: err}
	}
	s.lastID = rec.ID
	s.count++
	s.metrics.SetRecordCount(s.count)

	s.logger.DebugContext(ctx, "record appended", "record_id", rec.ID, "kind", kind, "keywords", len(keywords))
	return rec.Clone(), nil
}

// Get returns the record with id. Unknown ids yield *apperrors.NotFoundError.
func (s *Store) Get(ctx context.Context, id uint64) (*Record, error) {
	start := time.Now()
	rec, err := s.backend.Get(ctx, id)
	s.metrics.RecordQuery("get", apperrors.Status(err), time.Since(start))
	if err != nil {
		return nil, wrapReadErr("get", id, err)
	}
	return rec, nil
}

// Search returns records matching q, most recent first. Identical store
// state and query yield identical sequences.
func (s *Store) Search(ctx context.Context, q Query) ([]*Record, error) {
	start := time.Now()
	recs, err := s.search(ctx, q)
	s.metrics.RecordQuery("search", apperrors.Status(err), time.Since(start))
	return recs, err
}

func (s *Store) search(ctx context.Context, q Query) ([]*Record, error) {
	nq, err := q.normalize()
	if err != nil {
		return nil, err
	}
	recs, err := s.backend.Scan(ctx, nq)
	if err != nil {
		return nil, wrapReadErr("search", 0, err)
	}
	return recs, nil
}

// RecentContext returns the count most recent records of kind, most recent
// first. A zero count returns an empty slice.
func (s *Store) RecentContext(ctx context.Context, kind Kind, count int) ([]*Record, error) {
	if count < 0 {
		return nil, apperrors.Validation("count", "must not be negative", count)
	}
	if !kind.Valid() {
		return nil, apperrors.Validation("kind", fmt.Sprintf("must be one of %v", Kinds), string(kind))
	}
	if count == 0 {
		return []*Record{}, nil
	}
	start := time.Now()
	recs, err := s.backend.Scan(ctx, Query{Kind: kind, Limit: count})
	s.metrics.RecordQuery("recent_context", apperrors.Status(err), time.Since(start))
	if err != nil {
		return nil, wrapReadErr("recent_context", 0, err)
	}
	return recs, nil
}

// Count returns the number of committed records.
func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.backend.Count(ctx)
	if err != nil {
		return 0, wrapReadErr("count", 0, err)
	}
	return n, nil
}

// LastID returns the id of the most recently committed record.
func (s *Store) LastID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastID
}

// Close releases the backend.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Close()
}

func wrapReadErr(op string, id uint64, err error) error {
	var nf *apperrors.NotFoundError
	if errors.As(err, &nf) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &apperrors.StoreError{Op: op, ID: id, Cause: err}
}
