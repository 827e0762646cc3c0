// Package storagetest opens a migrated in-memory SQLite storage for tests.
package storagetest

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"groupkeeper-bot/internal/config"
	"groupkeeper-bot/internal/storage"
)

func New(t *testing.T, opts ...storage.Option) *storage.Storage {
	t.Helper()

	logger := zaptest.NewLogger(t)
	db, err := sqlx.Open(config.DriverSQLite, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, storage.RunMigrations(context.Background(), db.DB, config.DriverSQLite, logger))
	return storage.New(db, logger, opts...)
}
