// Package migrations applies the embedded catalog schema with golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var files embed.FS

// ErrNoVersion means the catalog has never been migrated.
var ErrNoVersion = errors.New("catalog has no schema version")

// Status describes where a catalog stands relative to this binary.
type Status struct {
	Current uint
	Latest  uint
	Dirty   bool
}

// Behind is the number of migrations still to apply.
func (s Status) Behind() int { return int(s.Latest) - int(s.Current) }

// MigrateUp applies every pending migration. An up-to-date catalog is not an error.
func MigrateUp(db *sql.DB) error {
	m, err := open(db)
	if err != nil {
		return err
	}
	// m is not closed: that would close db, which belongs to the caller.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// ReadStatus reports the current and latest schema versions.
func ReadStatus(db *sql.DB) (Status, error) {
	var st Status
	latest, err := LatestVersion()
	if err != nil {
		return st, err
	}
	st.Latest = latest

	m, err := open(db)
	if err != nil {
		return st, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return st, ErrNoVersion
	}
	if err != nil {
		return st, fmt.Errorf("reading schema version: %w", err)
	}
	st.Current, st.Dirty = version, dirty
	return st, nil
}

// CheckStatus returns nil only when the catalog is clean and at the latest version.
func CheckStatus(db *sql.DB) error {
	st, err := ReadStatus(db)
	if err != nil {
		return err
	}
	switch {
	case st.Dirty:
		return fmt.Errorf("catalog is dirty at version %d, a previous migration failed", st.Current)
	case st.Current < st.Latest:
		return fmt.Errorf("catalog is at version %d, latest is %d (%d behind)", st.Current, st.Latest, st.Behind())
	case st.Current > st.Latest:
		return fmt.Errorf("catalog version %d is newer than this binary (%d)", st.Current, st.Latest)
	}
	return nil
}

// LatestVersion returns the highest embedded migration version.
func LatestVersion() (uint, error) {
	src, err := iofs.New(files, "files")
	if err != nil {
		return 0, fmt.Errorf("reading embedded migrations: %w", err)
	}
	defer src.Close()
	return lastVersion(src)
}

func open(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(files, "files")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("wrapping sqlite connection: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return m, nil
}

func lastVersion(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, err
	}
	for {
		next, err := src.Next(v)
		if err != nil {
			return v, nil
		}
		v = next
	}
}
