// Package testutil provides shared testing utilities for the weekly plan companion.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/weeklyplan/weeklyplan/internal/storage"
)

// Friday is 10:00 UTC on the due day of ISO week 11, 2025.
var Friday = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

// Clock returns a clock frozen at t.
func Clock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// TestSQLiteKV creates a migrated in-memory SQLite store.
// The store is automatically closed when the test completes.
func TestSQLiteKV(t *testing.T) storage.KV {
	t.Helper()

	db, err := storage.Open(storage.Config{InMemory: true})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	// Run migrations
	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("migrate test database: %v", err)
	}

	kv := storage.NewSQLiteKV(db, true)
	t.Cleanup(func() {
		kv.Close()
	})
	return kv
}

// TestContext returns a context with a timeout for tests.
// The context is automatically cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TempDir creates a temporary directory for the test.
// The directory is automatically removed when the test completes.
func TempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "weeklyplan-test-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() {
		os.RemoveAll(dir)
	})
	return dir
}

// WaitFor polls cond until it holds or two seconds pass.
func WaitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
