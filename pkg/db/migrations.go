package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migrations returns the schema migrations compiled into the binary.
func Migrations() fs.FS {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		panic(fmt.Sprintf("embedded migrations: %v", err))
	}
	return sub
}

// Migrator is what migrations need from a database handle. *pgxpool.Pool
// implements it.
type Migrator interface {
	DBTX
	TxBeginner
}

// Migration is a single .sql migration file.
type Migration struct {
	Version string
	Name    string
}

// MigrationResult holds the result of a migration run.
type MigrationResult struct {
	Applied []string
	Skipped []string
}

// MigrationStatusEntry is one migration in a status report.
type MigrationStatusEntry struct {
	Version   string     `json:"version" yaml:"version"`
	Name      string     `json:"name" yaml:"name"`
	AppliedAt *time.Time `json:"applied_at,omitempty" yaml:"applied_at,omitempty"`
}

// MigrationStatus groups migrations by state.
type MigrationStatus struct {
	Applied []MigrationStatusEntry `json:"applied" yaml:"applied"`
	Pending []MigrationStatusEntry `json:"pending" yaml:"pending"`
	// Drift lists versions recorded in the database with no file.
	Drift []MigrationStatusEntry `json:"drift" yaml:"drift"`
}

// Migrate applies every pending migration in fsys in version order. Each
// migration runs in its own transaction together with its bookkeeping row.
func Migrate(ctx context.Context, conn Migrator, fsys fs.FS) (*MigrationResult, error) {
	return MigrateTo(ctx, conn, fsys, "")
}

// MigrateTo applies pending migrations up to and including target. An empty
// target applies all of them.
func MigrateTo(ctx context.Context, conn Migrator, fsys fs.FS, target string) (*MigrationResult, error) {
	if conn == nil {
		return nil, fmt.Errorf("database handle is nil")
	}

	migrations, err := findMigrations(fsys)
	if err != nil {
		return nil, fmt.Errorf("failed to find migrations: %w", err)
	}

	last := len(migrations) - 1
	if target != "" {
		last = indexOf(migrations, normalizeVersion(target))
		if last < 0 {
			return nil, fmt.Errorf("target version %s not found in migrations", target)
		}
	}

	if err := ensureMigrationsTable(ctx, conn); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedMigrations(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	result := &MigrationResult{}
	for _, m := range migrations[:last+1] {
		if _, ok := applied[m.Version]; ok {
			result.Skipped = append(result.Skipped, m.Version)
			continue
		}
		if err := applyMigration(ctx, conn, fsys, m); err != nil {
			return result, fmt.Errorf("migration %s failed: %w", m.Version, err)
		}
		result.Applied = append(result.Applied, m.Version)
	}

	return result, nil
}

// Status reports applied, pending and drifted migrations.
func Status(ctx context.Context, conn Migrator, fsys fs.FS) (*MigrationStatus, error) {
	if conn == nil {
		return nil, fmt.Errorf("database handle is nil")
	}

	migrations, err := findMigrations(fsys)
	if err != nil {
		return nil, fmt.Errorf("failed to find migrations: %w", err)
	}
	if err := ensureMigrationsTable(ctx, conn); err != nil {
		return nil, fmt.Errorf("failed to ensure migrations table: %w", err)
	}
	applied, err := appliedMigrations(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	return buildStatus(migrations, applied), nil
}

func buildStatus(migrations []Migration, applied map[string]time.Time) *MigrationStatus {
	status := &MigrationStatus{
		Applied: []MigrationStatusEntry{},
		Pending: []MigrationStatusEntry{},
		Drift:   []MigrationStatusEntry{},
	}

	known := make(map[string]bool, len(migrations))
	for _, m := range migrations {
		known[m.Version] = true
		if at, ok := applied[m.Version]; ok {
			status.Applied = append(status.Applied, MigrationStatusEntry{Version: m.Version, Name: m.Name, AppliedAt: &at})
		} else {
			status.Pending = append(status.Pending, MigrationStatusEntry{Version: m.Version, Name: m.Name})
		}
	}

	for version, at := range applied {
		if !known[version] {
			status.Drift = append(status.Drift, MigrationStatusEntry{Version: version, Name: version + ".sql", AppliedAt: &at})
		}
	}
	sort.Slice(status.Drift, func(i, j int) bool {
		return status.Drift[i].Version < status.Drift[j].Version
	})

	return status
}

func ensureMigrationsTable(ctx context.Context, conn DBTX) error {
	_, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`)
	return err
}

// findMigrations lists .sql files at the root of fsys sorted by version.
// Use numeric prefixes (001_, 002_) to control order.
func findMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(path.Ext(entry.Name()), ".sql") {
			continue
		}
		migrations = append(migrations, Migration{
			Version: normalizeVersion(entry.Name()),
			Name:    entry.Name(),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// normalizeVersion strips a trailing .sql so versions recorded with or
// without the extension compare equal.
func normalizeVersion(v string) string {
	if len(v) > 4 && strings.EqualFold(v[len(v)-4:], ".sql") {
		return v[:len(v)-4]
	}
	return v
}

func indexOf(migrations []Migration, version string) int {
	for i, m := range migrations {
		if m.Version == version {
			return i
		}
	}
	return -1
}

func appliedMigrations(ctx context.Context, conn DBTX) (map[string]time.Time, error) {
	rows, err := conn.Query(ctx, "SELECT version, applied_at FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]time.Time)
	for rows.Next() {
		var version string
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, err
		}
		applied[normalizeVersion(version)] = appliedAt
	}
	return applied, rows.Err()
}

func applyMigration(ctx context.Context, conn TxBeginner, fsys fs.FS, m Migration) error {
	content, err := fs.ReadFile(fsys, m.Name)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	sql := string(content)
	if strings.TrimSpace(sql) == "" {
		return fmt.Errorf("migration file is empty")
	}

	return WithTx(ctx, conn, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, sql); err != nil {
			return fmt.Errorf("failed to execute SQL: %w", err)
		}
		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Name); err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}
		return nil
	})
}
