package database

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// dialectMap maps gorm dialector names to goose dialects
var dialectMap = map[string]string{
	"sqlite":   "sqlite3",
	"postgres": "postgres",
}

func setupGoose(db *gorm.DB) error {
	dialect, ok := dialectMap[db.Dialector.Name()]
	if !ok {
		return fmt.Errorf("no migration dialect for %q", db.Dialector.Name())
	}
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	migrationsDir, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to get migrations directory: %w", err)
	}
	goose.SetBaseFS(migrationsDir)
	goose.SetLogger(goose.NopLogger())
	return nil
}

func Migrate(db *gorm.DB) error {
	if err := setupGoose(db); err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	if err := goose.Up(sqlDB, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, err := goose.GetDBVersion(sqlDB)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	slog.Info("migrations completed", "version", version)
	return nil
}

// MigrateDown rolls back the latest migration.
func MigrateDown(db *gorm.DB) error {
	if err := setupGoose(db); err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	if err := goose.Down(sqlDB, "."); err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}

	slog.Info("rolled back one migration")
	return nil
}
