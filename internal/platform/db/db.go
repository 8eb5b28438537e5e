package db

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Driver names the backing SQL engine.
type Driver string

const (
	// DriverSQLite is the embedded on-device store.
	DriverSQLite Driver = "sqlite"
	// DriverPostgres targets a depot-hosted PostgreSQL instance.
	DriverPostgres Driver = "postgres"
)

// Config selects and locates the store.
type Config struct {
	Driver Driver
	// Path is the SQLite file. Empty opens an in-memory database.
	Path string
	// DSN is the PostgreSQL connection string.
	DSN string
}

// DB wraps a sql.DB together with its dialect.
type DB struct {
	sql    *sql.DB
	driver Driver
}

// Querier is satisfied by both the pool and an open transaction. Statements use
// '?' placeholders regardless of driver.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open connects to the configured store and pings it.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	switch cfg.Driver {
	case DriverSQLite, "":
		return openSQLite(ctx, cfg.Path)
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, errors.New("platform/db: postgres dsn required")
		}
		conn, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("platform/db: open postgres: %w", err)
		}
		if err := conn.PingContext(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("platform/db: ping: %w", err)
		}
		return &DB{sql: conn, driver: DriverPostgres}, nil
	default:
		return nil, fmt.Errorf("platform/db: unsupported driver %q", cfg.Driver)
	}
}

// OpenMemory opens a migrated in-memory SQLite database, mainly for tests.
func OpenMemory(ctx context.Context) (*DB, error) {
	d, err := openSQLite(ctx, "")
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

func openSQLite(ctx context.Context, path string) (*DB, error) {
	dsn := ":memory:"
	if path != "" {
		dsn = fmt.Sprintf(
			"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
			path,
		)
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("platform/db: open sqlite: %w", err)
	}
	// Single writer: one connection serialises every statement and keeps an
	// in-memory database alive for the lifetime of the pool.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("platform/db: ping: %w", err)
	}
	return &DB{sql: conn, driver: DriverSQLite}, nil
}

// Driver reports the dialect in use.
func (d *DB) Driver() Driver {
	return d.driver
}

// Close releases the pool.
func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// Ping checks store connectivity.
func (d *DB) Ping(ctx context.Context) error {
	return d.sql.PingContext(ctx)
}

// Migrate applies the embedded schema. Statements are idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := d.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("platform/db: migrate: %w", err)
		}
	}
	return nil
}

// Querier returns a non-transactional Querier over the pool.
func (d *DB) Querier() Querier {
	return rebinder{q: d.sql, driver: d.driver}
}

type rawQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rebinder struct {
	q      rawQuerier
	driver Driver
}

func (r rebinder) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.q.ExecContext(ctx, Rebind(r.driver, query), args...)
}

func (r rebinder) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.q.QueryContext(ctx, Rebind(r.driver, query), args...)
}

func (r rebinder) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return r.q.QueryRowContext(ctx, Rebind(r.driver, query), args...)
}

// Rebind rewrites '?' placeholders into the driver's native form. Question
// marks inside single-quoted literals are left untouched.
func Rebind(driver Driver, query string) string {
	if driver != DriverPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			fmt.Fprintf(&b, "$%d", n)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
