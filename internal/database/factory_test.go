package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/whrgg/cloud-drive-project/internal/config"
)

func TestNewDatabaseFromConfig(t *testing.T) {
	t.Run("memory database is migrated", func(t *testing.T) {
		db, err := NewDatabaseFromConfig(config.DatabaseConfig{Type: "memory"})
		if err != nil {
			t.Fatalf("NewDatabaseFromConfig() error = %v", err)
		}
		defer db.Close()

		if err := db.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
	})

	t.Run("sqlite database creates data_dir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "db")
		db, err := NewDatabaseFromConfig(config.DatabaseConfig{Type: "sqlite", DataDir: dir})
		if err != nil {
			t.Fatalf("NewDatabaseFromConfig() error = %v", err)
		}
		defer db.Close()

		if err := db.Migrate(); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, CatalogFile)); err != nil {
			t.Errorf("catalog file missing: %v", err)
		}
	})

	t.Run("sqlite database without data_dir", func(t *testing.T) {
		db, err := NewDatabaseFromConfig(config.DatabaseConfig{Type: "sqlite"})
		if err == nil {
			db.Close()
			t.Fatal("NewDatabaseFromConfig() expected error for missing data_dir")
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		db, err := NewDatabaseFromConfig(config.DatabaseConfig{Type: "postgres"})
		if err == nil {
			db.Close()
			t.Fatal("NewDatabaseFromConfig() expected error for unknown type")
		}
	})
}
