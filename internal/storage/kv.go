package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/weeklyplan/weeklyplan/internal/logging"
)

// ErrNotFound is returned by KV.Get when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// KV is a durable string-keyed blob store. Engines persist whole snapshots
// under a single key, so no listing or batching is needed.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}

// KVConfig selects and configures a KV backend.
type KVConfig struct {
	Backend string // sqlite, badger or memory
	Path    string
	Logger  *logging.Logger
}

// OpenKV opens the configured backend. SQLite databases are migrated before use.
func OpenKV(cfg KVConfig) (KV, error) {
	switch cfg.Backend {
	case "", "sqlite":
		db, err := Open(Config{Path: cfg.Path, Logger: cfg.Logger})
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return NewSQLiteKV(db, true), nil
	case "badger":
		return NewBadgerKV(BadgerOptions{Dir: cfg.Path, Logger: cfg.Logger})
	case "memory":
		return NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}

// MemoryKV keeps values in a map. Values are copied on the way in and out.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryKV creates an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	v, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	m.mu.Lock()
	m.data[key] = cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryKV) Close() error { return nil }

// Len reports the number of stored keys.
func (m *MemoryKV) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
