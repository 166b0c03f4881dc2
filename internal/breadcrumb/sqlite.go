package breadcrumb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const createTable = `CREATE TABLE IF NOT EXISTS breadcrumbs (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	at    INTEGER NOT NULL
)`

// SQLiteStore persists breadcrumbs so they survive an app relaunch.
type SQLiteStore struct {
	sqlDB   *sql.DB
	nowTime func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// OpenSQLite opens (creating if needed) the breadcrumb database at dsn.
func OpenSQLite(dsn string, nowTime func() time.Time) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("[OpenSQLite] dsn is required")
	}
	if nowTime == nil {
		nowTime = time.Now
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(createTable); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create breadcrumbs table: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB, nowTime: nowTime}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *SQLiteStore) Put(ctx context.Context, key, value string) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO breadcrumbs (key, value, at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, at = excluded.at`,
		key, value, toMillis(s.nowTime()))
	if err != nil {
		return fmt.Errorf("put breadcrumb %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (Crumb, bool, error) {
	var (
		c  Crumb
		at int64
	)
	err := s.sqlDB.QueryRowContext(ctx, `SELECT key, value, at FROM breadcrumbs WHERE key = ?`, key).
		Scan(&c.Key, &c.Value, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return Crumb{}, false, nil
	}
	if err != nil {
		return Crumb{}, false, fmt.Errorf("get breadcrumb %s: %w", key, err)
	}
	c.At = fromMillis(at)
	return c, true, nil
}

func (s *SQLiteStore) All(ctx context.Context) ([]Crumb, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT key, value, at FROM breadcrumbs ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list breadcrumbs: %w", err)
	}
	defer rows.Close()

	var out []Crumb
	for rows.Next() {
		var (
			c  Crumb
			at int64
		)
		if err := rows.Scan(&c.Key, &c.Value, &at); err != nil {
			return nil, fmt.Errorf("scan breadcrumb: %w", err)
		}
		c.At = fromMillis(at)
		out = append(out, c)
	}
	return out, rows.Err()
}
