package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Supported storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	// MemoryPath selects a private in-memory SQLite database.
	MemoryPath = ":memory:"
)

// DB wraps the queue's database handle
type DB struct {
	sql    *sql.DB
	driver string
	logger *zap.Logger
}

// Config holds database connection parameters
type Config struct {
	Driver string // DriverSQLite (default) or DriverPostgres
	Path   string // sqlite file path or MemoryPath
	URL    string // postgres connection string
}

// New opens the durable store, verifies connectivity and applies the schema.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*DB, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}

	var (
		conn *sql.DB
		err  error
	)

	switch cfg.Driver {
	case DriverSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite path is required")
		}
		conn, err = sql.Open("sqlite", sqliteDSN(cfg.Path))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// SQLite has a single writer; one connection also keeps an
		// in-memory database alive for the lifetime of the handle.
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
		conn.SetConnMaxLifetime(0)
		conn.SetConnMaxIdleTime(0)

	case DriverPostgres:
		if cfg.URL == "" {
			return nil, fmt.Errorf("postgres url is required")
		}
		conn, err = sql.Open("pgx", cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(2)
		conn.SetConnMaxLifetime(1 * time.Hour)
		conn.SetConnMaxIdleTime(30 * time.Minute)

	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &DB{
		sql:    conn,
		driver: cfg.Driver,
		logger: logger,
	}

	if err := db.Migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("queue store opened",
		zap.String("driver", cfg.Driver),
		zap.String("path", cfg.Path),
	)

	return db, nil
}

func sqliteDSN(path string) string {
	if path == MemoryPath {
		return MemoryPath
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
}

// Close closes the database handle
func (db *DB) Close() error {
	db.logger.Info("closing queue store", zap.String("driver", db.driver))
	return db.sql.Close()
}

// Driver returns the storage driver name.
func (db *DB) Driver() string {
	return db.driver
}

// Health checks if the database is reachable
func (db *DB) Health(ctx context.Context) error {
	return db.sql.PingContext(ctx)
}

// Migrate creates the queue table and index if they do not exist.
func (db *DB) Migrate(ctx context.Context) error {
	ddl, err := Schema(db.driver)
	if err != nil {
		return err
	}
	for _, stmt := range ddl {
		if _, err := db.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders into $n for postgres.
func (db *DB) rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
