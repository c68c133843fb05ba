package migrations

import (
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_CreatesTables(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}

	for _, table := range []string{"contents", "nodes", "shares", "quotas", "operations", "schema_migrations"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestReadStatus_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	_, err := ReadStatus(db)
	if !errors.Is(err, ErrNoVersion) {
		t.Fatalf("ReadStatus() error = %v, want ErrNoVersion", err)
	}
	if err := CheckStatus(db); err == nil {
		t.Error("CheckStatus() on fresh database returned nil")
	}
}

func TestCheckStatus_AfterMigration(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	if err := CheckStatus(db); err != nil {
		t.Errorf("CheckStatus() error = %v", err)
	}

	st, err := ReadStatus(db)
	if err != nil {
		t.Fatalf("ReadStatus() error = %v", err)
	}
	if st.Behind() != 0 || st.Dirty {
		t.Errorf("ReadStatus() = %+v, want clean and current", st)
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("first MigrateUp() error = %v", err)
	}
	if err := MigrateUp(db); err != nil {
		t.Errorf("second MigrateUp() error = %v", err)
	}
}

func TestLatestVersion(t *testing.T) {
	v, err := LatestVersion()
	if err != nil {
		t.Fatalf("LatestVersion() error = %v", err)
	}
	if v < 1 {
		t.Errorf("LatestVersion() = %d, want >= 1", v)
	}
}

func TestSchema_ContentHashUnique(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}

	insert := `INSERT INTO contents (hash, storage_key, size, created_at, updated_at)
		VALUES (?, ?, 1, datetime('now'), datetime('now'))`
	if _, err := db.Exec(insert, "abc", "content/ab/1"); err != nil {
		t.Fatalf("first insert error = %v", err)
	}
	if _, err := db.Exec(insert, "abc", "content/ab/2"); err == nil {
		t.Error("duplicate hash was accepted")
	}
}

func TestSchema_SiblingNameUnique(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}

	insert := `INSERT INTO nodes (owner_id, parent_id, name, created_at, updated_at)
		VALUES (?, 0, ?, datetime('now'), datetime('now'))`
	if _, err := db.Exec(insert, 1, "docs"); err != nil {
		t.Fatalf("first insert error = %v", err)
	}
	if _, err := db.Exec(insert, 1, "docs"); err == nil {
		t.Error("duplicate sibling name was accepted")
	}
	if _, err := db.Exec(insert, 2, "docs"); err != nil {
		t.Errorf("same name for another owner error = %v", err)
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
