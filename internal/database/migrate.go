package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/agentx/aitalk/internal/config"
)

//go:embed migrations
var migrationsFS embed.FS

// RunMigrations runs all pending database migrations
func RunMigrations(ctx context.Context, db *DB, cfg config.DatabaseConfig) error {
	if cfg.Driver == DriverSQLite {
		return applySQLite(ctx, db)
	}

	m, err := newMigrate(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	// Run migrations
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RollbackMigration rolls back the last migration
func RollbackMigration(cfg config.DatabaseConfig) error {
	if cfg.Driver == DriverSQLite {
		return fmt.Errorf("rollback is not supported for sqlite")
	}

	m, err := newMigrate(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Steps(-1); err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}

	return nil
}

func newMigrate(cfg config.DatabaseConfig) (*migrate.Migrate, error) {
	dir, url, err := migrationTarget(cfg)
	if err != nil {
		return nil, err
	}

	// Create source from embedded files
	source, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}
	return m, nil
}

func migrationTarget(cfg config.DatabaseConfig) (dir, url string, err error) {
	switch cfg.Driver {
	case DriverPostgres, DriverPGX:
		return "migrations/postgres", fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode), nil
	case DriverMySQL:
		return "migrations/mysql", "mysql://" + mysqlConfig(cfg).FormatDSN(), nil
	default:
		return "", "", fmt.Errorf("no migrations for driver %q", cfg.Driver)
	}
}

// applySQLite executes the sqlite up migrations in version order. Every
// statement is idempotent so re-running on an existing database is safe.
func applySQLite(ctx context.Context, db *DB) error {
	files, err := fs.Glob(migrationsFS, "migrations/sqlite/*.up.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)

	for _, name := range files {
		body, err := migrationsFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		for _, stmt := range strings.Split(string(body), ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply %s: %w", name, err)
			}
		}
	}
	return nil
}
