package testutil

import (
	"path/filepath"
	"testing"

	"github.com/whrgg/cloud-drive-project/internal/database"
)

// NewTestDatabase creates a new in-memory SQLite catalog with migrations applied.
// The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("failed to migrate database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// NewSharedTestDatabases opens n connections to one migrated catalog file, the
// way separate processes sharing a catalog would.
func NewSharedTestDatabases(t *testing.T, n int) []*database.SQLiteDatabase {
	t.Helper()

	path := filepath.Join(t.TempDir(), "catalog.db")
	dbs := make([]*database.SQLiteDatabase, 0, n)
	for i := 0; i < n; i++ {
		db, err := database.NewSQLiteDatabase(path)
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		t.Cleanup(func() {
			db.Close()
		})
		if i == 0 {
			if err := db.Migrate(); err != nil {
				t.Fatalf("failed to migrate database: %v", err)
			}
		}
		dbs = append(dbs, db)
	}
	return dbs
}
