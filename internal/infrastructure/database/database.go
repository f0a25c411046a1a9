package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const (
	dirPermissions  = 0o750
	filePermissions = 0o600
	pingTimeout     = 5 * time.Second
)

// Config selects the registry database file and its locking behaviour.
type Config struct {
	// Path is the database file or MemoryPath. Missing parent
	// directories are created.
	Path string

	// WALMode enables Write-Ahead Logging. Ignored in memory.
	WALMode bool

	// BusyTimeout is how long a statement waits on a lock, in seconds.
	BusyTimeout int
}

// DB is the SQLite handle shared by the device, group and command stores.
type DB struct {
	*sql.DB
	path string
}

// dsn builds the go-sqlite3 connection string for cfg.
func dsn(cfg Config) string {
	q := url.Values{}
	q.Set("_busy_timeout", strconv.Itoa(cfg.BusyTimeout*int(time.Second/time.Millisecond)))
	q.Set("_foreign_keys", "on")
	if cfg.WALMode && cfg.Path != MemoryPath {
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
	}
	return "file:" + cfg.Path + "?" + q.Encode()
}

// Open connects to the database and verifies it answers.
//
// The pool holds a single connection: SQLite allows one writer, and an
// in-memory database lives only as long as its connection.
func Open(cfg Config) (*DB, error) {
	inMemory := cfg.Path == MemoryPath
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	if !inMemory {
		sqlDB.SetConnMaxIdleTime(30 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck,gosec // ping error takes precedence
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	if !inMemory {
		_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // the file may only appear on first write
	}
	return &DB{DB: sqlDB, path: cfg.Path}, nil
}

// Close closes the connection. It is safe on a DB whose handle is nil.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the location the database was opened with.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs a trivial query.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// InTx runs fn in a transaction, committing when it returns nil and rolling
// back otherwise.
func (db *DB) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
