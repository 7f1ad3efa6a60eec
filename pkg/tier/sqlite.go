package tier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

var (
	_ Backend = (*SQLite)(nil)
	_ Expirer = (*SQLite)(nil)
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value BLOB NOT NULL,
    expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS kv_expires_at ON kv (expires_at);
`

// SQLiteConfig configures the SQLite tier.
type SQLiteConfig struct {
	// Path is the database file. ":memory:" keeps everything in process.
	Path string

	// MaxPages bounds the database size in pages (PRAGMA max_page_count).
	// Writes beyond it fail with KindQuotaExceeded. Zero means unbounded.
	MaxPages int
}

// SQLite is a durable tier backed by a local SQLite file.
type SQLite struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// OpenSQLite opens (and creates if needed) the SQLite tier.
func OpenSQLite(cfg SQLiteConfig) (*SQLite, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if path != ":memory:" {
		path = filepath.Clean(path)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	if cfg.MaxPages > 0 {
		dsn += fmt.Sprintf("&_pragma=max_page_count(%d)", cfg.MaxPages)
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{sqlDB: sqlDB, now: time.Now}, nil
}

// Name returns "sqlite".
func (s *SQLite) Name() string { return "sqlite" }

// Get returns the stored value. Rows past their native expiry are reported
// as absent.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		value     []byte
		expiresAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, newError(s.Name(), "get", KindNotFound, key, nil)
		}
		return nil, newError(s.Name(), "get", classifySQLite(err), key, err)
	}
	if expiresAt > 0 && expiresAt <= s.now().UnixMilli() {
		return nil, newError(s.Name(), "get", KindNotFound, key, nil)
	}
	return value, nil
}

// Set upserts value with ttl as native expiry.
func (s *SQLite) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).UnixMilli()
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt,
	)
	if err != nil {
		return newError(s.Name(), "set", classifySQLite(err), key, err)
	}
	return nil
}

// Remove deletes key.
func (s *SQLite) Remove(ctx context.Context, key string) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return newError(s.Name(), "remove", classifySQLite(err), key, err)
	}
	return nil
}

// Keys lists keys with the given prefix.
func (s *SQLite) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT key FROM kv WHERE substr(key, 1, ?) = ? ORDER BY key`,
		utf8.RuneCountInString(prefix), prefix,
	)
	if err != nil {
		return nil, newError(s.Name(), "keys", classifySQLite(err), "", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, newError(s.Name(), "keys", KindCorrupt, "", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, newError(s.Name(), "keys", classifySQLite(err), "", err)
	}
	return keys, nil
}

// Clear removes every key with the given prefix.
func (s *SQLite) Clear(ctx context.Context, prefix string) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM kv WHERE substr(key, 1, ?) = ?`,
		utf8.RuneCountInString(prefix), prefix,
	)
	if err != nil {
		return newError(s.Name(), "clear", classifySQLite(err), "", err)
	}
	return nil
}

// DeleteExpired removes rows with the given prefix whose native expiry has
// passed. Get hides such rows but leaves them in the file.
func (s *SQLite) DeleteExpired(ctx context.Context, prefix string) (int, error) {
	res, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM kv WHERE expires_at > 0 AND expires_at <= ? AND substr(key, 1, ?) = ?`,
		s.now().UnixMilli(), utf8.RuneCountInString(prefix), prefix,
	)
	if err != nil {
		return 0, newError(s.Name(), "delete_expired", classifySQLite(err), "", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, newError(s.Name(), "delete_expired", KindUnavailable, "", err)
	}
	return int(n), nil
}

// Close closes the SQLite handle.
func (s *SQLite) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// classifySQLite maps SQLITE_FULL to KindQuotaExceeded.
func classifySQLite(err error) Kind {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code()&0xff == sqlite3lib.SQLITE_FULL {
		return KindQuotaExceeded
	}
	return KindUnavailable
}
