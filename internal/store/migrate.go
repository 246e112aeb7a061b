package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

var migrationFilePattern = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.(up|down)\.sql$`)

// ErrNoMigrationApplied is returned by RollbackMigration when schema_migrations is empty.
var ErrNoMigrationApplied = errors.New("no migration has been applied")

// Migration is one numbered schema change. Name is what schema_migrations records.
type Migration struct {
	Version  string
	Name     string
	UpPath   string
	DownPath string
}

// MigrationState pairs a migration with when it was applied, if at all.
type MigrationState struct {
	Migration
	AppliedAt *time.Time
}

// LoadMigrations reads NNNN_name.{up,down}.sql pairs from dir, ordered by
// version. Every version needs an up file; down files are optional.
func LoadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byVersion := map[string]*Migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationFilePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		version, name, direction := match[1], match[1]+"_"+match[2], match[3]
		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		} else if m.Name != name {
			return nil, fmt.Errorf("migration %s has conflicting names %s and %s", version, m.Name, name)
		}
		path := filepath.Join(dir, entry.Name())
		if direction == "up" {
			m.UpPath = path
		} else {
			m.DownPath = path
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpPath == "" {
			return nil, fmt.Errorf("migration %s has no up file", m.Name)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// ApplyMigrations runs every pending up migration in its own transaction.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	migrations, err := LoadMigrations(migrationsDir)
	if err != nil {
		return err
	}
	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if _, ok := applied[m.Name]; ok {
			continue
		}
		if err := runMigrationFile(ctx, db, m.UpPath, m.Name, `INSERT INTO schema_migrations(version) VALUES($1)`); err != nil {
			return err
		}
		slog.Info("migration applied", "version", m.Name)
	}
	return nil
}

// RollbackMigration reverts the most recently applied migration and returns its name.
func RollbackMigration(ctx context.Context, db *sql.DB, migrationsDir string) (string, error) {
	migrations, err := LoadMigrations(migrationsDir)
	if err != nil {
		return "", err
	}
	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return "", err
	}

	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		if _, ok := applied[m.Name]; !ok {
			continue
		}
		if m.DownPath == "" {
			return "", fmt.Errorf("migration %s has no down file", m.Name)
		}
		if err := runMigrationFile(ctx, db, m.DownPath, m.Name, `DELETE FROM schema_migrations WHERE version=$1`); err != nil {
			return "", err
		}
		slog.Info("migration rolled back", "version", m.Name)
		return m.Name, nil
	}
	return "", ErrNoMigrationApplied
}

// MigrationStatus lists every known migration with its applied time.
func MigrationStatus(ctx context.Context, db *sql.DB, migrationsDir string) ([]MigrationState, error) {
	migrations, err := LoadMigrations(migrationsDir)
	if err != nil {
		return nil, err
	}
	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return nil, err
	}
	states := make([]MigrationState, 0, len(migrations))
	for _, m := range migrations {
		state := MigrationState{Migration: m}
		if at, ok := applied[m.Name]; ok {
			at := at
			state.AppliedAt = &at
		}
		states = append(states, state)
	}
	return states, nil
}

func runMigrationFile(ctx context.Context, db *sql.DB, path, name, bookkeeping string) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %s: %w", name, err)
	}
	if statements := strings.TrimSpace(string(contents)); statements != "" {
		if _, err := tx.ExecContext(ctx, statements); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", filepath.Base(path), err)
		}
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, name); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}

func appliedMigrations(ctx context.Context, db *sql.DB) (map[string]time.Time, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := map[string]time.Time{}
	for rows.Next() {
		var version string
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[version] = at
	}
	return applied, rows.Err()
}
