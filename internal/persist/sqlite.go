package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pkt.systems/pslog"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS console_state (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteStore persists state slices as rows in a single SQLite table.
type SQLiteStore struct {
	db  *sql.DB
	log pslog.Logger
}

// OpenSQLite opens (and creates when missing) a SQLite state database.
func OpenSQLite(path string, logger pslog.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite: path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create dir: %w", err)
		}
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if path == ":memory:" {
		dsn = path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	if logger != nil {
		logger = logger.With("state_db", path)
	}
	return &SQLiteStore{db: db, log: logger}, nil
}

// Load reads the raw value stored under key.
func (s *SQLiteStore) Load(key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM console_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		if s.log != nil {
			s.log.Debug("state load miss", "key", key)
		}
		return nil, false, nil
	}
	if err != nil {
		if s.log != nil {
			s.log.Warn("state load failed", "key", key, "err", err)
		}
		return nil, false, fmt.Errorf("sqlite: load %s: %w", key, err)
	}
	return value, true, nil
}

// Save upserts the value stored under key.
func (s *SQLiteStore) Save(key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO console_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli(),
	)
	if err != nil {
		if s.log != nil {
			s.log.Warn("state save failed", "key", key, "err", err)
		}
		return fmt.Errorf("sqlite: save %s: %w", key, err)
	}
	if s.log != nil {
		s.log.Trace("state save ok", "key", key, "bytes", len(value))
	}
	return nil
}

// Clear deletes the row stored under key.
func (s *SQLiteStore) Clear(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM console_state WHERE key = ?`, key); err != nil {
		if s.log != nil {
			s.log.Warn("state clear failed", "key", key, "err", err)
		}
		return fmt.Errorf("sqlite: clear %s: %w", key, err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
