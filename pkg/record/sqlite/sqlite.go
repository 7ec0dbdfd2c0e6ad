// Package sqlite provides a record backend on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/neuroguard/neuroguard/pkg/apperrors"
	"github.com/neuroguard/neuroguard/pkg/record"
)

// Config holds configuration for Backend.
type Config struct {
	// Path is the database file. Its directory is created when missing.
	Path string

	// BusyTimeout bounds how long a writer waits on a locked database.
	BusyTimeout time.Duration
}

// Backend stores records in a single table with a keyword side table.
type Backend struct {
	db *sql.DB
}

var _ record.Backend = (*Backend)(nil)

// Open opens or creates the database and applies the schema.
func Open(cfg *Config) (*Backend, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, errors.New("sqlite: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(wal)&_pragma=synchronous(full)&_pragma=foreign_keys(on)&_pragma=busy_timeout(%d)",
		cfg.Path, busy.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	b := &Backend{db: db}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return b, nil
}

func (b *Backend) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id          INTEGER PRIMARY KEY,
		kind        TEXT NOT NULL,
		created_at  TEXT NOT NULL,
		payload     TEXT NOT NULL,
		keywords    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_records_kind ON records(kind, id DESC);

	CREATE TABLE IF NOT EXISTS record_keywords (
		keyword    TEXT NOT NULL,
		record_id  INTEGER NOT NULL REFERENCES records(id),
		PRIMARY KEY (keyword, record_id)
	);
	CREATE INDEX IF NOT EXISTS idx_record_keywords_record ON record_keywords(record_id);
	`
	_, err := b.db.Exec(schema)
	return err
}

// Commit inserts the record and its keywords in one transaction.
func (b *Backend) Commit(ctx context.Context, rec *record.Record) error {
	keywords, err := json.Marshal(rec.Keywords)
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO records (id, kind, created_at, payload, keywords) VALUES (?, ?, ?, ?, ?)`,
		int64(rec.ID), string(rec.Kind), rec.CreatedAt.UTC().Format(time.RFC3339Nano), string(rec.Payload), string(keywords))
	if err != nil {
		return fmt.Errorf("insert record %d: %w", rec.ID, err)
	}

	if len(rec.Keywords) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO record_keywords (keyword, record_id) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare keywords: %w", err)
		}
		defer stmt.Close()
		for _, kw := range rec.Keywords {
			if _, err := stmt.ExecContext(ctx, kw, int64(rec.ID)); err != nil {
				return fmt.Errorf("insert keyword %q: %w", kw, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record %d: %w", rec.ID, err)
	}
	return nil
}

const selectColumns = `SELECT id, kind, created_at, payload, keywords FROM records`

// Get loads the record with id.
func (b *Backend) Get(ctx context.Context, id uint64) (*record.Record, error) {
	row := b.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, int64(id))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &apperrors.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Scan builds one SELECT from the query filters.
func (b *Backend) Scan(ctx context.Context, q record.Query) ([]*record.Record, error) {
	var (
		where []string
		args  []interface{}
	)
	if q.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(q.Kind))
	}
	if len(q.Keywords) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(q.Keywords)), ",")
		where = append(where, "id IN (SELECT record_id FROM record_keywords WHERE keyword IN ("+placeholders+"))")
		for _, kw := range q.Keywords {
			args = append(args, kw)
		}
	}

	query := selectColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	defer rows.Close()

	out := make([]*record.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LastID returns the highest record id.
func (b *Backend) LastID(ctx context.Context) (uint64, error) {
	var last sql.NullInt64
	if err := b.db.QueryRowContext(ctx, `SELECT MAX(id) FROM records`).Scan(&last); err != nil {
		return 0, fmt.Errorf("last id: %w", err)
	}
	if !last.Valid {
		return 0, nil
	}
	return uint64(last.Int64), nil
}

// Count returns the number of records.
func (b *Backend) Count(ctx context.Context) (int, error) {
	var n int
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*record.Record, error) {
	var (
		id        int64
		kind      string
		createdAt string
		payload   string
		keywords  string
	)
	if err := row.Scan(&id, &kind, &createdAt, &payload, &keywords); err != nil {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("record %d: parse created_at: %w", id, err)
	}
	rec := &record.Record{
		ID:        uint64(id),
		Kind:      record.Kind(kind),
		CreatedAt: ts.UTC(),
		Payload:   json.RawMessage(payload),
	}
	if err := json.Unmarshal([]byte(keywords), &rec.Keywords); err != nil {
		return nil, fmt.Errorf("record %d: decode keywords: %w", id, err)
	}
	return rec, nil
}
