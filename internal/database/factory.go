package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/whrgg/cloud-drive-project/internal/config"
)

// CatalogFile is the catalog's file name inside data_dir.
const CatalogFile = "drive.db"

// NewDatabaseFromConfig opens the catalog described by cfg. In-memory catalogs
// are migrated right away since nothing else could have done it.
func NewDatabaseFromConfig(cfg config.DatabaseConfig) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data_dir: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, CatalogFile))
	case "memory":
		db, err := NewSQLiteDatabase(":memory:")
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
