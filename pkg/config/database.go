package config

import (
	"fmt"
	"time"
)

// DatabaseConfig holds the relational store connection settings, mirroring
// the same pgx/golang-migrate wiring pattern.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	MigrationsPath  string        `yaml:"migrations_path"`

	// ExtraParams is appended verbatim to the DSN (e.g. "search_path=...");
	// used by integration tests to isolate each test in its own schema.
	ExtraParams string `yaml:"-"`
}

// DefaultDatabaseConfig returns connection defaults suitable for local development.
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "jobwatch",
		Database:        "jobwatch",
		SSLMode:         "disable",
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		MigrationsPath:  "pkg/database/migrations",
	}
}

// DSN builds a libpq-style connection string from the configuration.
func (c *DatabaseConfig) DSN() string {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
	if c.ExtraParams != "" {
		dsn += " " + c.ExtraParams
	}
	return dsn
}

// Validate checks that required database fields are present.
func (c *DatabaseConfig) Validate() error {
	if c.Host == "" {
		return newFieldError("database.host", "must not be empty")
	}
	if c.Database == "" {
		return newFieldError("database.database", "must not be empty")
	}
	if c.Port <= 0 {
		return newFieldError("database.port", "must be positive")
	}
	return nil
}
