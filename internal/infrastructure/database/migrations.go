package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

// Migration is one versioned schema change loaded from
// YYYYMMDD_HHMMSS_name.{up,down}.sql.
type Migration struct {
	Version string
	Name    string
	UpSQL   string
	DownSQL string
}

// MigrationRecord is a row of schema_migrations.
type MigrationRecord struct {
	Version   string
	AppliedAt time.Time
}

// Migrate applies the pending migrations at the root of fsys, oldest first.
// Each runs in its own transaction, so a failure leaves earlier migrations
// committed and the next call resumes at the failed one. A nil fsys is empty.
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) error {
	_, pending, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		return err
	}

	for _, m := range pending {
		err := db.InTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
				return fmt.Errorf("executing SQL: %w", err)
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
				m.Version, time.Now().UTC().Format(time.RFC3339))
			return err
		})
		if err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// MigrateDown reverts the most recently applied migration, if any.
func (db *DB) MigrateDown(ctx context.Context, fsys fs.FS) error {
	applied, _, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return nil
	}
	latest := applied[len(applied)-1].Version

	all, err := loadMigrations(fsys)
	if err != nil {
		return err
	}
	i := sort.Search(len(all), func(i int) bool { return all[i].Version >= latest })
	if i == len(all) || all[i].Version != latest {
		return fmt.Errorf("migration %s not found in filesystem", latest)
	}
	m := all[i]
	if m.DownSQL == "" {
		return fmt.Errorf("migration %s has no down SQL", latest)
	}

	return db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, m.DownSQL); err != nil {
			return fmt.Errorf("executing down SQL: %w", err)
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", m.Version)
		return err
	})
}

// MigrationStatus splits the migrations in fsys into applied and pending.
func (db *DB) MigrationStatus(ctx context.Context, fsys fs.FS) (applied []MigrationRecord, pending []Migration, err error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return nil, nil, fmt.Errorf("creating migrations table: %w", err)
	}

	applied, err = db.appliedMigrations(ctx)
	if err != nil {
		return nil, nil, err
	}
	all, err := loadMigrations(fsys)
	if err != nil {
		return nil, nil, err
	}

	done := make(map[string]bool, len(applied))
	for _, r := range applied {
		done[r.Version] = true
	}
	for _, m := range all {
		if !done[m.Version] {
			pending = append(pending, m)
		}
	}
	return applied, pending, nil
}

func (db *DB) appliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var r MigrationRecord
		var appliedAt string
		if err := rows.Scan(&r.Version, &appliedAt); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		r.AppliedAt, _ = time.Parse(time.RFC3339, appliedAt) //nolint:errcheck // written by Migrate
		records = append(records, r)
	}
	return records, rows.Err()
}

// migrationFile is the parsed form of a migration filename.
type migrationFile struct {
	version string
	name    string
	up      bool
}

// parseMigrationFilename accepts YYYYMMDD_HHMMSS_name.up.sql and .down.sql.
func parseMigrationFilename(filename string) (migrationFile, bool) {
	base, ok := strings.CutSuffix(filename, ".sql")
	if !ok {
		return migrationFile{}, false
	}

	var f migrationFile
	if b, isUp := strings.CutSuffix(base, ".up"); isUp {
		base, f.up = b, true
	} else if b, isDown := strings.CutSuffix(base, ".down"); isDown {
		base = b
	} else {
		return migrationFile{}, false
	}

	parts := strings.SplitN(base, "_", 3)
	if len(parts) < 2 {
		return migrationFile{}, false
	}
	f.version = parts[0] + "_" + parts[1]
	f.name = f.version
	if len(parts) == 3 {
		f.name = parts[2]
	}
	return f, true
}

// loadMigrations reads the migrations at the root of fsys sorted by version.
// Files that are not migrations are ignored.
func loadMigrations(fsys fs.FS) ([]Migration, error) {
	if fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, entry := range entries {
		f, ok := parseMigrationFilename(entry.Name())
		if entry.IsDir() || !ok {
			continue
		}
		data, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}

		m := byVersion[f.version]
		if m == nil {
			m = &Migration{Version: f.version, Name: f.name}
			byVersion[f.version] = m
		}
		if f.up {
			m.UpSQL = string(data)
		} else {
			m.DownSQL = string(data)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL != "" {
			migrations = append(migrations, *m)
		}
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}
