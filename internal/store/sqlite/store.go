package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"time"

	"tgseek/internal/domain"

	_ "modernc.org/sqlite"
)

// Store keeps front-end state: the query history shown by the history
// command and a small settings table. The search corpus itself lives in the
// per-chat CSV artifacts, not here.
type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}
	db, err := sql.Open("sqlite", filepath.Clean(dbPath))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS queries (
	query_id INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_name TEXT NOT NULL,
	query TEXT NOT NULL,
	result_count INTEGER NOT NULL DEFAULT 0,
	asked_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_queries_asked_at ON queries(asked_at DESC);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO settings(key, value) VALUES(?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value
`, key, value)
	return err
}

func (s *Store) GetSetting(ctx context.Context, key, defaultValue string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return defaultValue, nil
	}
	return value, err
}

func (s *Store) RecordQuery(ctx context.Context, chatName, query string, resultCount int) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO queries(chat_name, query, result_count, asked_at)
VALUES(?, ?, ?, ?)
`, chatName, query, resultCount, time.Now().Unix())
	return err
}

func (s *Store) RecentQueries(ctx context.Context, limit int) ([]domain.QueryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT query_id, chat_name, query, result_count, asked_at
FROM queries
ORDER BY asked_at DESC, query_id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.QueryRecord
	for rows.Next() {
		var record domain.QueryRecord
		if err := rows.Scan(&record.ID, &record.ChatName, &record.Query, &record.ResultCount, &record.AskedAtUnix); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
