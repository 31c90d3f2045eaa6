package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migration is one embedded schema step. Files are named NNN_description.sql;
// NNN is the schema version the file brings the database to.
type Migration struct {
	Version   int        `json:"version"`
	Name      string     `json:"name"`
	AppliedAt *time.Time `json:"appliedAt,omitempty"`

	sql string
}

// Migrate brings the schema to the newest embedded version.
func (db *DB) Migrate() error {
	return db.MigrateContext(context.Background())
}

// MigrateContext applies pending migrations in version order, each in its
// own transaction together with its schema_version row.
func (db *DB) MigrateContext(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	current, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	all, err := embeddedMigrations()
	if err != nil {
		return err
	}

	for _, m := range all {
		if m.Version <= current {
			continue
		}
		err := db.InTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.sql); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_version (version, name, applied_at) VALUES (?, ?, ?)`,
				m.Version, m.Name, time.Now().UTC())
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s: %w", m.Name, err)
		}
		db.log.Info("schema at version %d (%s)", m.Version, m.Name)
	}
	return nil
}

// SchemaVersion is the highest applied version, 0 for a fresh database.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	err := db.conn.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return int(v.Int64), nil
}

// Migrations lists every embedded migration with its applied time, if any.
func (db *DB) Migrations(ctx context.Context) ([]Migration, error) {
	all, err := embeddedMigrations()
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT version, applied_at FROM schema_version`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var v int
		var at time.Time
		if err := rows.Scan(&v, &at); err != nil {
			return nil, err
		}
		applied[v] = at
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range all {
		if at, ok := applied[all[i].Version]; ok {
			at := at
			all[i].AppliedAt = &at
		}
	}
	return all, nil
}

func embeddedMigrations() ([]Migration, error) {
	files, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}

	var out []Migration
	seen := make(map[int]string)
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || path.Ext(name) != ".sql" {
			continue
		}
		prefix, _, ok := strings.Cut(name, "_")
		v, err := strconv.Atoi(prefix)
		if !ok || err != nil || v <= 0 {
			return nil, fmt.Errorf("migration %s: name must start with a version number", name)
		}
		if other, dup := seen[v]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", other, name, v)
		}
		seen[v] = name

		body, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		out = append(out, Migration{Version: v, Name: name, sql: string(body)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
