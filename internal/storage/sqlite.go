// Package storage provides durable local persistence for the weekly plan companion.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/weeklyplan/weeklyplan/internal/logging"
)

// DB is a single-connection SQLite handle holding the kv_entries table.
type DB struct {
	conn *sql.DB
	path string // empty for in-memory databases
	log  *logging.Logger
}

// Config for Open. Path is ignored when InMemory is set.
type Config struct {
	Path     string
	InMemory bool
	Logger   *logging.Logger
}

// Open opens or creates the database. File databases use WAL.
func Open(cfg Config) (*DB, error) {
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}

	dsn := ":memory:"
	pragmas := []string{"PRAGMA busy_timeout=5000"}
	if !cfg.InMemory {
		if cfg.Path == "" {
			return nil, fmt.Errorf("storage: database path is required")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		dsn = cfg.Path
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL")
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dsn, err)
	}
	// One connection: an in-memory database lives only as long as its
	// connection, and snapshot writes are serialized anyway.
	conn.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	db := &DB{conn: conn, log: log.WithField("component", "storage")}
	if !cfg.InMemory {
		db.path = cfg.Path
	}
	return db, nil
}

// Close closes the connection. Closing twice is harmless.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn exposes the pool for queries outside the KV surface.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Path returns the database file path, empty for in-memory databases.
func (db *DB) Path() string {
	return db.path
}

// InTx runs fn in a transaction, rolling back when fn fails.
func (db *DB) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
