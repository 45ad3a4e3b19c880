package storage

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

// migrate applies all pending migrations for the store's dialect and
// returns the resulting schema version.
func (s *Store) migrate() (uint, error) {
	var (
		driver database.Driver
		err    error
	)
	switch s.dialect {
	case dialectPostgres:
		driver, err = postgres.WithInstance(s.db, &postgres.Config{})
	default:
		driver, err = sqlite.WithInstance(s.db, &sqlite.Config{})
	}
	if err != nil {
		return 0, fmt.Errorf("failed to create %s migrate driver: %w", s.dialect, err)
	}

	source, err := iofs.New(migrationFS, "migrations/"+s.dialect.String())
	if err != nil {
		return 0, fmt.Errorf("failed to create iofs source: %w", err)
	}

	// The instance is not closed: closing it would close s.db.
	m, err := migrate.NewWithInstance("iofs", source, s.dialect.String(), driver)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("failed to get migration version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}

// SchemaVersion reports the applied migration version.
func (s *Store) SchemaVersion() (uint, error) {
	return s.migrate()
}
