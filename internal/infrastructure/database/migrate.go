package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tigerroll/taxiemissions/internal/support/exception"
	"github.com/tigerroll/taxiemissions/internal/support/logger"
)

//go:embed migrations
var migrationsFS embed.FS

const (
	migrationsPath  = "migrations/sqlite"
	migrationsTable = "batch_schema_migrations"
)

// Migrate applies every pending metadata migration.
func Migrate(ctx context.Context, sqlDB *sql.DB) error {
	logger.Debugf("Executing metadata migration 'up' (Path: %s, Table: %s)", migrationsPath, migrationsTable)

	source, err := iofs.New(migrationsFS, migrationsPath)
	if err != nil {
		return exception.NewBatchError(moduleName, exception.KindIO, "failed to create iofs source driver", err)
	}
	driver, err := sqlite3.WithInstance(sqlDB, &sqlite3.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return exception.NewBatchError(moduleName, exception.KindIO, "failed to create migration database driver", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return exception.NewBatchError(moduleName, exception.KindIO, "failed to create migrate instance", err)
	}
	// m.Close would also close sqlDB, which the caller owns; only the source is released here.
	defer source.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return exception.NewBatchError(moduleName, exception.KindQuery, "metadata migration failed", err)
	}
	version, dirty, err := m.Version()
	if err == nil {
		logger.Debugf("Metadata schema at version %d (dirty: %t).", version, dirty)
	}
	return nil
}
