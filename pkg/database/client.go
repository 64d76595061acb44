// Package database provides the Postgres connection pool and embedded
// schema migrations backing the relational store.
package database

import (
	stdsql "database/sql"
	"embed"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // register the pgx driver for database/sql

	"github.com/nthiel/jobwatch/pkg/config"
)

//go:embed migrations
var migrationsFS embed.FS

// Client wraps a connection pool with sqlx's convenience query helpers. The
// relational store repositories are built directly on top of it.
type Client struct {
	*sqlx.DB
}

// RawDB returns the underlying *sql.DB, for health checks and anything that
// needs the raw database/sql surface rather than sqlx's extensions.
func (c *Client) RawDB() *stdsql.DB {
	return c.DB.DB
}

// NewClient opens a connection pool per cfg, applies pending migrations, and
// verifies connectivity before returning.
func NewClient(ctx context.Context, cfg config.DatabaseConfig) (*Client, error) {
	return newClient(ctx, cfg.DSN(), cfg.Database, cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime, true)
}

// NewClientFromDSN opens a connection pool against an arbitrary DSN and
// applies migrations, bypassing config.DatabaseConfig. Used by integration
// tests that build their DSN from a testcontainer and a per-test schema.
func NewClientFromDSN(ctx context.Context, dsn, database string) (*Client, error) {
	return newClient(ctx, dsn, database, 5, 2, 5*time.Minute, true)
}

// OpenRaw opens a connection pool against an arbitrary DSN without applying
// migrations, e.g. to create a schema before a migrating client connects to it.
func OpenRaw(ctx context.Context, dsn string) (*Client, error) {
	return newClient(ctx, dsn, "", 2, 1, time.Minute, false)
}

func newClient(ctx context.Context, dsn, database string, maxOpen, maxIdle int, maxLifetime time.Duration, migrate bool) (*Client, error) {
	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if migrate {
		if err := runMigrations(db, database); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	return &Client{DB: sqlx.NewDb(db, "pgx")}, nil
}

// runMigrations applies every pending migration embedded in the binary.
func runMigrations(db *stdsql.DB, database string) error {
	hasMigrations, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("check embedded migrations: %w", err)
	}
	if !hasMigrations {
		return fmt.Errorf("no embedded migration files found, binary built incorrectly")
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, database, driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// Close only the migration source; m.Close() would also close db via the
	// shared instance passed to postgres.WithInstance above.
	return sourceDriver.Close()
}

func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read embedded migrations: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && len(entry.Name()) > 4 && entry.Name()[len(entry.Name())-4:] == ".sql" {
			return true, nil
		}
	}
	return false, nil
}
