// Package testutil holds helpers shared by package tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/agentx/guardian-backend/internal/config"
	"github.com/agentx/guardian-backend/internal/database"
	"github.com/agentx/guardian-backend/internal/repository/sqlstore"
	"github.com/stretchr/testify/require"
)

// NewSQLiteDB returns a migrated sqlite database in a temp dir, closed on cleanup
func NewSQLiteDB(t testing.TB) *database.DB {
	t.Helper()

	cfg := config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "guardian.db"),
	}
	require.NoError(t, database.RunMigrations(cfg))

	db, err := database.NewConnection(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// NewStore returns a store over a fresh migrated sqlite database
func NewStore(t testing.TB) *sqlstore.Store {
	t.Helper()
	return sqlstore.New(NewSQLiteDB(t).DB)
}
