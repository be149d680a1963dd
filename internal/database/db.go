package database

import (
	"fmt"
	"time"

	"github.com/agentx/guardian-backend/internal/config"
	_ "github.com/jackc/pgx/v4/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	_ "modernc.org/sqlite"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// DB wraps the database connection
type DB struct {
	*sqlx.DB
	driver string
}

// NewConnection creates a new database connection for the configured driver
func NewConnection(cfg config.DatabaseConfig) (*DB, error) {
	dsn, err := GetDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Connect(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	if cfg.Driver == "sqlite" {
		// a single writer keeps sqlite from returning SQLITE_BUSY
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, driver: cfg.Driver}, nil
}

// Driver returns the database/sql driver name in use
func (db *DB) Driver() string {
	return db.driver
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// GetDSN returns the connection string for the configured driver
func GetDSN(cfg config.DatabaseConfig) (string, error) {
	switch cfg.Driver {
	case "postgres", "pgx":
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode), nil
	case "sqlite":
		return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite", cfg.Path), nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
