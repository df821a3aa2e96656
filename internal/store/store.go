// Package store provides the resource table behind compiled queries: a
// JSON-document table keyed by resource id, backed by SQLite for local use
// and PostgreSQL for shared deployments.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/joelmontavon/fhir4ds3-sub015/internal/dialect"
)

// Config identifies the backing database and resource table.
type Config struct {
	// Driver is "sqlite3" or "postgres".
	Driver string

	// DSN is the driver connection string. ":memory:" gives an in-memory
	// SQLite database.
	DSN string

	// Table, IDColumn and ResourceColumn name the resource table; empty
	// fields use the conventional names.
	Table          string
	IDColumn       string
	ResourceColumn string
}

func (c Config) withDefaults() Config {
	if c.Table == "" {
		c.Table = "fhir_resources"
	}
	if c.IDColumn == "" {
		c.IDColumn = "id"
	}
	if c.ResourceColumn == "" {
		c.ResourceColumn = "resource"
	}
	return c
}

// Store wraps one database connection plus the resource table names.
type Store struct {
	db      *sql.DB
	cfg     Config
	dialect dialect.Dialect
}

// Open connects and ensures the resource table exists. Idempotent: opening
// an existing database leaves its rows untouched.
func Open(cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()

	d := dialect.Get(cfg.Driver)
	if d == nil {
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Driver == "sqlite3" {
		// Single writer avoids SQLITE_BUSY; in-memory databases lose their
		// table when the pool opens a second connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	if err := ensureSchema(db, cfg); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, cfg: cfg, dialect: d}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries. Prefer the Store and
// Runner methods where they exist.
func (s *Store) DB() *sql.DB { return s.db }

// Config returns the resolved configuration.
func (s *Store) Config() Config { return s.cfg }

// Query executes a query and returns the resulting rows. Callers close the
// returned rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// Count returns the number of stored resources.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s", s.cfg.Table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count resources: %w", err)
	}
	return n, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// ensureSchema creates the resource table if it does not exist. PostgreSQL
// stores documents as JSONB so the #>> operators work; SQLite stores JSON
// text for json_extract.
func ensureSchema(db *sql.DB, cfg Config) error {
	docType := "TEXT"
	if cfg.Driver == "postgres" {
		docType = "JSONB"
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s TEXT PRIMARY KEY, %s %s NOT NULL)",
		cfg.Table, cfg.IDColumn, cfg.ResourceColumn, docType)
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// placeholder returns the driver's i-th (1-based) bind marker.
func (s *Store) placeholder(i int) string {
	return s.dialect.Placeholder(i)
}
