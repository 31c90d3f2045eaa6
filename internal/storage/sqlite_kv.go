package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQLiteKV stores entries in the kv_entries table.
type SQLiteKV struct {
	db     *DB
	ownsDB bool
}

// NewSQLiteKV wraps a migrated DB. When owns is true, Close closes the DB too.
func NewSQLiteKV(db *DB, owns bool) *SQLiteKV {
	return &SQLiteKV{db: db, ownsDB: owns}
}

func (s *SQLiteKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.Conn().QueryRowContext(ctx,
		`SELECT value FROM kv_entries WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteKV) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO kv_entries (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteKV) Delete(ctx context.Context, key string) error {
	if _, err := s.db.Conn().ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteKV) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
