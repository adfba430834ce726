package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration represents a single embedded schema migration.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
}

var (
	filenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_-]+)\.sql$`)
	upMarkerRegex = regexp.MustCompile(`^--\s*\+migrate\s+Up\s*$`)
)

// Migrate applies all pending embedded migrations in version order.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema table: %w", err)
	}

	migrations, err := LoadMigrations(migrationFiles)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		err := db.WithTransaction(ctx, func(tx *Tx) error {
			if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
				return fmt.Errorf("failed to execute SQL: %w", err)
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
				return fmt.Errorf("failed to record migration: %w", err)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", m.Version, m.Name, err)
		}
	}

	return nil
}

// SchemaVersion returns the highest applied migration version.
// Returns 0 if no migrations have been applied.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return 0, nil
		}
		return 0, err
	}
	return version, nil
}

func (db *DB) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// LoadMigrations reads every migrations/NNN_name.sql file in fsys and
// returns them sorted by version.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.Glob(fsys, "migrations/*.sql")
	if err != nil {
		return nil, err
	}

	migrations := make([]Migration, 0, len(entries))
	seen := make(map[int]string)
	for _, name := range entries {
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file: %w", err)
		}

		m, err := ParseMigration(path.Base(name), string(content))
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[m.Version]; ok {
			return nil, fmt.Errorf("duplicate migration version %d: %s and %s", m.Version, prev, name)
		}
		seen[m.Version] = name
		migrations = append(migrations, m)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// ParseMigration parses a migration file. Everything after the
// "-- +migrate Up" marker is the SQL to apply.
func ParseMigration(filename, content string) (Migration, error) {
	matches := filenameRegex.FindStringSubmatch(filename)
	if matches == nil {
		return Migration{}, fmt.Errorf("invalid migration filename format: %s (expected NNN_name.sql)", filename)
	}

	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return Migration{}, fmt.Errorf("invalid version number in filename: %s", matches[1])
	}

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if !upMarkerRegex.MatchString(strings.TrimSpace(line)) {
			continue
		}
		upSQL := strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
		if upSQL == "" {
			return Migration{}, fmt.Errorf("empty migration body in %s", filename)
		}
		return Migration{Version: version, Name: matches[2], UpSQL: upSQL}, nil
	}

	return Migration{}, fmt.Errorf("missing '-- +migrate Up' marker in migration file: %s", filename)
}
