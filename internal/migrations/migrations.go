// Package migrations owns the Postgres schema: event summaries, API tokens,
// alerts, and the audit trail. Migration files are embedded so the binary is
// self-contained.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed *.sql
var migrationFiles embed.FS

// RunMigrations brings the database schema up to date. With autoMigrate false
// it reports the current version and applies nothing, for deployments where a
// separate job owns the schema.
func RunMigrations(db *sql.DB, autoMigrate bool) error {
	source, err := iofs.New(migrationFiles, ".")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("init postgres migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("init migrate instance: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}

	if dirty {
		slog.Warn("Database migration state is dirty, forcing recorded version",
			"version", version)

		// Safe while the schema lives in a single baseline migration;
		// revisit if a multi-step migration ever partially applies.
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("recover dirty migration state at version %d: %w", version, err)
		}
	}

	if !autoMigrate {
		slog.Info("Auto-migration disabled, leaving schema as is",
			"current_version", version)
		return nil
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("Database schema is up to date", "version", version)
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	newVersion, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("read migration version after apply: %w", err)
	}
	slog.Info("Database migrations applied",
		"from_version", version,
		"to_version", newVersion)

	return nil
}
