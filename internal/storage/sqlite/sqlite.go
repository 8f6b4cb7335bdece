// Package sqlite provides the embedded-SQL cache store on top of
// database/sql with the pure-Go sqlite driver. One table holds the
// entries; indexes on the table-dependency CSV and the last-access
// timestamp keep invalidation and LRU scans cheap.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/steveyegge/surgo/codec"
	"github.com/steveyegge/surgo/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key              TEXT PRIMARY KEY,
	method           TEXT NOT NULL,
	target           TEXT NOT NULL,
	params_hash      TEXT NOT NULL,
	value            BLOB NOT NULL,
	tables           TEXT NOT NULL,
	created_at       REAL NOT NULL,
	last_accessed_at REAL NOT NULL,
	access_count     INTEGER NOT NULL,
	ttl              REAL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_tables ON cache_entries(tables);
CREATE INDEX IF NOT EXISTS idx_cache_entries_last_accessed ON cache_entries(last_accessed_at);
`

// Store is the embedded-SQL backend.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New opens (creating if needed) the cache database at path and ensures
// the schema. Use ":memory:" for an ephemeral database.
func New(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		// WAL keeps concurrent readers cheap; the busy timeout covers
		// writer contention between goroutines sharing the file.
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise see its own empty
		// in-memory database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Value payloads are stored as CBOR blobs: compact and round-trip-exact
// for every wire value, including non-finite floats.

func encodeValue(v codec.Value) ([]byte, error) {
	return codec.SerializeBinary(v)
}

func decodeValue(b []byte) (codec.Value, error) {
	return codec.ParseBinary(b)
}

// Timestamps are stored as unix seconds with fractional precision; TTL
// is stored in seconds, NULL meaning no expiry.

func toUnix(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnix(f float64) time.Time {
	return time.Unix(0, int64(f*float64(time.Second)))
}

// Get returns the entry for key.
func (s *Store) Get(ctx context.Context, key storage.Key) (*storage.Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT value, tables, created_at, last_accessed_at, access_count, ttl
		FROM cache_entries WHERE key = ?`, key.String())
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return e, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*storage.Entry, error) {
	var (
		blob      []byte
		tablesCSV string
		createdAt float64
		lastAt    float64
		count     int64
		ttl       sql.NullFloat64
	)
	if err := row.Scan(&blob, &tablesCSV, &createdAt, &lastAt, &count, &ttl); err != nil {
		return nil, err
	}
	v, err := decodeValue(blob)
	if err != nil {
		return nil, fmt.Errorf("corrupt cache value: %w", err)
	}
	e := &storage.Entry{
		Value:          v,
		Tables:         splitCSV(tablesCSV),
		CreatedAt:      fromUnix(createdAt),
		LastAccessedAt: fromUnix(lastAt),
		AccessCount:    count,
	}
	if ttl.Valid {
		e.TTL = time.Duration(ttl.Float64 * float64(time.Second))
	}
	return e, nil
}

// Set stores the entry, replacing any previous row for the key.
func (s *Store) Set(ctx context.Context, key storage.Key, e *storage.Entry) error {
	blob, err := encodeValue(e.Value)
	if err != nil {
		return err
	}
	var ttl sql.NullFloat64
	if e.TTL > 0 {
		ttl = sql.NullFloat64{Float64: e.TTL.Seconds(), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_entries
			(key, method, target, params_hash, value, tables, created_at, last_accessed_at, access_count, ttl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			tables = excluded.tables,
			created_at = excluded.created_at,
			last_accessed_at = excluded.last_accessed_at,
			access_count = excluded.access_count,
			ttl = excluded.ttl`,
		key.String(), key.Method, key.Target, key.ParamsHash,
		blob, joinCSV(e.Tables), toUnix(e.CreatedAt), toUnix(e.LastAccessedAt), e.AccessCount, ttl)
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Touch bumps access metadata for key.
func (s *Store) Touch(ctx context.Context, key storage.Key, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cache_entries
		SET last_accessed_at = ?, access_count = access_count + 1
		WHERE key = ?`, toUnix(at), key.String())
	if err != nil {
		return fmt.Errorf("failed to touch cache entry: %w", err)
	}
	return nil
}

// Remove deletes the entry for key.
func (s *Store) Remove(ctx context.Context, key storage.Key) error {
	return s.RemoveByKeyString(ctx, key.String())
}

// RemoveByKeyString deletes by rendered key.
func (s *Store) RemoveByKeyString(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to remove cache entry: %w", err)
	}
	return nil
}

// RemoveAll deletes every entry.
func (s *Store) RemoveAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// RemoveForTable deletes every entry whose tables CSV contains table.
// Four anchored LIKE patterns cover exact, prefix, middle, and suffix
// membership. Exact for comma-free table names, which every bare
// identifier is; a backtick-quoted name containing commas is also
// matched by a table named like one of its comma-separated parts.
func (s *Store) RemoveForTable(ctx context.Context, table string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM cache_entries
		WHERE tables = ?
		   OR tables LIKE ? || ',%'
		   OR tables LIKE '%,' || ? || ',%'
		   OR tables LIKE '%,' || ?`,
		table, table, table, table)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate table %q: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// AllEntries returns entries least recently used first.
func (s *Store) AllEntries(ctx context.Context) ([]storage.KeyedEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value, tables, created_at, last_accessed_at, access_count, ttl
		FROM cache_entries ORDER BY last_accessed_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to scan cache entries: %w", err)
	}
	defer rows.Close()

	var out []storage.KeyedEntry
	for rows.Next() {
		var (
			key       string
			blob      []byte
			tablesCSV string
			createdAt float64
			lastAt    float64
			count     int64
			ttl       sql.NullFloat64
		)
		if err := rows.Scan(&key, &blob, &tablesCSV, &createdAt, &lastAt, &count, &ttl); err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		v, err := decodeValue(blob)
		if err != nil {
			return nil, fmt.Errorf("corrupt cache value for %q: %w", key, err)
		}
		e := &storage.Entry{
			Value:          v,
			Tables:         splitCSV(tablesCSV),
			CreatedAt:      fromUnix(createdAt),
			LastAccessedAt: fromUnix(lastAt),
			AccessCount:    count,
		}
		if ttl.Valid {
			e.TTL = time.Duration(ttl.Float64 * float64(time.Second))
		}
		out = append(out, storage.KeyedEntry{Key: key, Entry: e})
	}
	return out, rows.Err()
}

// Count returns the entry count.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return n, nil
}

// IsEmpty reports whether the store holds no entries.
func (s *Store) IsEmpty(ctx context.Context) (bool, error) {
	n, err := s.Count(ctx)
	return n == 0, err
}

func joinCSV(tables []string) string {
	return strings.Join(tables, ",")
}

func splitCSV(csv string) []string {
	if csv == "" {
		return nil
	}
	return strings.Split(csv, ",")
}
