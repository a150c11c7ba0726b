package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// setupTestDB prepares an in-memory SQLite database for testing.
func setupTestDB(t *testing.T) Store {
	t.Helper()

	db, err := OpenSQLite(":memory:")
	require.NoError(t, err, "failed to initialize test database")

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewGormStore(db)
}

func TestGormStore_SQLite(t *testing.T) {
	runStoreSuite(t, setupTestDB)
}
