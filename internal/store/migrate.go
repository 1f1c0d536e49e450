package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const migrationsTable = "gomigrate_kiritara"

// ApplyMigrations runs every pending up migration in migrations.
func ApplyMigrations(ctx context.Context, databaseURL string, migrations fs.FS) error {
	return withMigrator(ctx, databaseURL, migrations, func(m *migrate.Migrate) error {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migration failed: %w", err)
		}
		return nil
	})
}

// RollbackMigrations runs the down migration of every applied version, newest
// first.
func RollbackMigrations(ctx context.Context, databaseURL string, migrations fs.FS) error {
	return withMigrator(ctx, databaseURL, migrations, func(m *migrate.Migrate) error {
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("rollback failed: %w", err)
		}
		return nil
	})
}

// withMigrator hands fn a migrator on its own connection pool; the migrator
// owns and closes it. A dirty schema is refused before fn runs.
func withMigrator(ctx context.Context, databaseURL string, migrations fs.FS, fn func(*migrate.Migrate) error) error {
	sourceDriver, err := iofs.New(migrations, ".")
	if err != nil {
		return fmt.Errorf("failed to create iofs driver: %w", err)
	}

	sqlDB, err := Open(ctx, databaseURL)
	if err != nil {
		return err
	}

	dbDriver, err := migratepgx.WithInstance(sqlDB, &migratepgx.Config{
		MigrationsTable: migrationsTable,
	})
	if err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("failed to create pgx driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		_ = dbDriver.Close()
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			slog.Warn("close migrator", "source_error", srcErr, "database_error", dbErr)
		}
	}()

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get current version: %w", err)
	}
	if dirty {
		return fmt.Errorf("migration %d is dirty, please fix it before proceeding", version)
	}

	return fn(m)
}
