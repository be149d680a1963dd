package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/agentx/guardian-backend/internal/config"
	"github.com/golang-migrate/migrate/v4"
	mdb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// RunMigrations runs all pending database migrations
func RunMigrations(cfg config.DatabaseConfig) error {
	m, err := newMigrate(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// RollbackMigration rolls back the last migration
func RollbackMigration(cfg config.DatabaseConfig) error {
	m, err := newMigrate(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Steps(-1); err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}
	return nil
}

// newMigrate opens a dedicated connection; closing the migrate instance
// closes it.
func newMigrate(cfg config.DatabaseConfig) (*migrate.Migrate, error) {
	dir, dbName := "migrations/postgres", "postgres"
	if cfg.Driver == "sqlite" {
		dir, dbName = "migrations/sqlite", "sqlite"
	}

	// Create source from embedded files
	source, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	dsn, err := GetDSN(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open migration connection: %w", err)
	}

	var driver mdb.Driver
	if cfg.Driver == "sqlite" {
		driver, err = sqlite.WithInstance(conn, &sqlite.Config{})
	} else {
		driver, err = postgres.WithInstance(conn, &postgres.Config{})
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, dbName, driver)
	if err != nil {
		driver.Close()
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}
	return m, nil
}
