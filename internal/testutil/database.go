package testutil

import (
	"testing"

	"av-go/internal/database"
	"av-go/internal/database/migrations"
)

// NewTestDatabase creates a new in-memory SQLite store with the schema applied.
// The store is automatically closed when the test completes.
func NewTestDatabase(t *testing.T) *database.Store {
	t.Helper()

	sqlDB, err := database.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if _, err := sqlDB.Exec(database.Schema); err != nil {
		sqlDB.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	db := database.NewStoreFromDB(sqlDB, migrations.SQLite)
	t.Cleanup(func() {
		db.Close()
	})
	return db
}
