package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNotFound is returned when a row addressed by identifier does not exist.
var ErrNotFound = errors.New("row not found")

// Store provides SQL persistence for mapped entities.
type Store struct {
	db      *sql.DB
	catalog Catalog
	schema  *schema
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Open connects to the database, applies dialect pragmas and creates the
// tables derived from catalog.
//
// driver is "sqlite3" (dsn is a file path or ":memory:") or "pgx" (dsn is a
// postgres connection string). Open is idempotent: DDL already applied to
// the database is skipped.
func Open(ctx context.Context, driver, dsn string, catalog Catalog, opts ...Option) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	sch, err := buildSchema(catalog, d)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if d.name == sqliteDialect.name {
		// SQLite allows one writer; a single connection also keeps
		// ":memory:" databases alive between calls.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	s := &Store{db: db, catalog: catalog, schema: sch, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.applyPragmas(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the dialect name: "sqlite" or "postgres".
func (s *Store) Dialect() string {
	return s.schema.dialect.name
}

// DDL returns the schema statements for catalog in the given driver's
// dialect without touching a database.
func DDL(driver string, catalog Catalog) ([]string, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	sch, err := buildSchema(catalog, d)
	if err != nil {
		return nil, err
	}
	return sch.ddl(), nil
}

// Table returns the table storing typeName (its root table).
func (s *Store) Table(typeName string) (string, error) {
	rt, err := s.rootTable(typeName)
	if err != nil {
		return "", err
	}
	return rt.name, nil
}

func (s *Store) applyPragmas(ctx context.Context) error {
	for _, pragma := range s.schema.dialect.pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// migrate applies every DDL statement not yet recorded in uow_schema.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS uow_schema (
		checksum TEXT NOT NULL PRIMARY KEY,
		statement TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create uow_schema: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	d := s.schema.dialect
	applied := 0
	for _, stmt := range s.schema.ddl() {
		sum := sha256.Sum256([]byte(stmt))
		checksum := hex.EncodeToString(sum[:])

		var n int
		if err := tx.QueryRowContext(ctx, d.rebind(`SELECT COUNT(*) FROM uow_schema WHERE checksum = ?`), checksum).Scan(&n); err != nil {
			return fmt.Errorf("check migration: %w", err)
		}
		if n > 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply %q: %w", stmt, err)
		}
		if _, err := tx.ExecContext(ctx, d.rebind(`INSERT INTO uow_schema (checksum, statement) VALUES (?, ?)`), checksum, stmt); err != nil {
			return fmt.Errorf("record migration: %w", err)
		}
		applied++
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	if applied > 0 {
		s.logger.Info("schema migrated", "dialect", d.name, "statements", applied)
	}
	return nil
}

func (s *Store) rootTable(typeName string) (*rootTable, error) {
	desc, err := s.catalog.Descriptor(typeName)
	if err != nil {
		return nil, err
	}
	rt, ok := s.schema.roots[desc.Meta.RootName()]
	if !ok {
		return nil, fmt.Errorf("no table for type %q", typeName)
	}
	return rt, nil
}
