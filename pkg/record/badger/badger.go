// Package badger provides the durable BadgerDB record backend.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/dgraph-io/badger/v4"

	"github.com/neuroguard/neuroguard/pkg/apperrors"
	"github.com/neuroguard/neuroguard/pkg/logger"
	"github.com/neuroguard/neuroguard/pkg/record"
)

// Config holds configuration for Backend.
type Config struct {
	Path              string
	SyncWrites        bool
	ValueLogFileSize  int64
	NumVersionsToKeep int
	Logger            logger.Logger
}

// Backend stores each record as a JSON document plus kind and keyword
// index keys, all written in one transaction.
type Backend struct {
	db *badger.DB
}

var _ record.Backend = (*Backend)(nil)

// Open opens or creates the database at cfg.Path.
func Open(cfg *Config) (*Backend, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, errors.New("badger: path is required")
	}
	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	if cfg.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = cfg.ValueLogFileSize
	}
	if cfg.NumVersionsToKeep > 0 {
		opts.NumVersionsToKeep = cfg.NumVersionsToKeep
	}
	if cfg.Logger != nil {
		opts.Logger = &badgerLogger{l: cfg.Logger.With("component", "badger")}
	} else {
		opts.Logger = nil
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", cfg.Path, err)
	}
	return &Backend{db: db}, nil
}

const (
	recordPrefix = "record:"
	kindPrefix   = "index:kind:"
	kwPrefix     = "index:kw:"
)

func idSuffix(id uint64) string {
	return fmt.Sprintf("%020d", id)
}

func recordKey(id uint64) []byte {
	return []byte(recordPrefix + idSuffix(id))
}

func kindIndexPrefix(kind record.Kind) []byte {
	return []byte(kindPrefix + string(kind) + ":")
}

func keywordIndexPrefix(kw string) []byte {
	return []byte(kwPrefix + kw + ":")
}

// parseIDSuffix extracts the trailing zero-padded id from an index or
// record key.
func parseIDSuffix(key []byte) (uint64, error) {
	if len(key) < 20 {
		return 0, fmt.Errorf("malformed key %q", key)
	}
	return strconv.ParseUint(string(key[len(key)-20:]), 10, 64)
}

// Commit writes the document and its index entries atomically.
func (b *Backend) Commit(ctx context.Context, rec *record.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %d: %w", rec.ID, err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		key := recordKey(rec.ID)
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("record %d already exists", rec.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := txn.Set(key, data); err != nil {
			return err
		}
		suffix := idSuffix(rec.ID)
		if err := txn.Set(append(kindIndexPrefix(rec.Kind), suffix...), []byte{}); err != nil {
			return err
		}
		for _, kw := range rec.Keywords {
			if err := txn.Set(append(keywordIndexPrefix(kw), suffix...), []byte{}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get loads the record with id.
func (b *Backend) Get(ctx context.Context, id uint64) (*record.Record, error) {
	var rec *record.Record
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getInTxn(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func getInTxn(txn *badger.Txn, id uint64) (*record.Record, error) {
	item, err := txn.Get(recordKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, &apperrors.NotFoundError{ID: id}
		}
		return nil, err
	}
	var rec record.Record
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, fmt.Errorf("decode record %d: %w", id, err)
	}
	return &rec, nil
}

// reverseIDs walks keys under prefix from the highest id down, calling fn
// until it returns false.
func reverseIDs(txn *badger.Txn, prefix []byte, fn func(id uint64) bool) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Reverse = true
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	seek := append(append([]byte(nil), prefix...), 0xFF)
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		id, err := parseIDSuffix(it.Item().Key())
		if err != nil {
			return err
		}
		if !fn(id) {
			return nil
		}
	}
	return nil
}

// Scan resolves the query against the indexes inside one read transaction.
func (b *Backend) Scan(ctx context.Context, q record.Query) ([]*record.Record, error) {
	out := make([]*record.Record, 0)
	err := b.db.View(func(txn *badger.Txn) error {
		ids, err := candidateIDs(ctx, txn, q)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := getInTxn(txn, id)
			if err != nil {
				return err
			}
			if !q.Matches(rec) {
				continue
			}
			out = append(out, rec)
			if q.Limit > 0 && len(out) >= q.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// candidateIDs returns ids worth loading, highest first. Without keywords
// the kind index (or the record keyspace) already yields the exact answer.
func candidateIDs(ctx context.Context, txn *badger.Txn, q record.Query) ([]uint64, error) {
	var ids []uint64
	if len(q.Keywords) == 0 {
		prefix := []byte(recordPrefix)
		if q.Kind != "" {
			prefix = kindIndexPrefix(q.Kind)
		}
		err := reverseIDs(txn, prefix, func(id uint64) bool {
			ids = append(ids, id)
			return q.Limit <= 0 || len(ids) < q.Limit
		})
		return ids, err
	}

	seen := make(map[uint64]struct{})
	for _, kw := range q.Keywords {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := reverseIDs(txn, keywordIndexPrefix(kw), func(id uint64) bool {
			seen[id] = struct{}{}
			return true
		})
		if err != nil {
			return nil, err
		}
	}
	ids = make([]uint64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	return ids, nil
}

// LastID returns the highest record id.
func (b *Backend) LastID(ctx context.Context) (uint64, error) {
	var last uint64
	err := b.db.View(func(txn *badger.Txn) error {
		return reverseIDs(txn, []byte(recordPrefix), func(id uint64) bool {
			last = id
			return false
		})
	})
	return last, err
}

// Count returns the number of record documents.
func (b *Backend) Count(ctx context.Context) (int, error) {
	n := 0
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(recordPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// badgerLogger routes badger's internal logs through the structured logger.
type badgerLogger struct {
	l logger.Logger
}

func (b *badgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Error(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warn(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Infof(format string, args ...interface{}) {
	b.l.Debug(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Debug(fmt.Sprintf(format, args...))
}
