package repository

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/migrate"
)

//go:embed migrations
var migrationsFS embed.FS

const (
	MigrationsTable     = "social_auth_migrations"
	MigrationLocksTable = "social_auth_migration_locks"
)

// GetMigrationsFS returns the migration files for the dialect, "sqlite" or
// "postgres".
func GetMigrationsFS(name string) (fs.FS, error) {
	return fs.Sub(migrationsFS, "migrations/"+name)
}

func dialectDir(db *bun.DB) (string, error) {
	switch db.Dialect().Name() {
	case dialect.SQLite:
		return "sqlite", nil
	case dialect.PG:
		return "postgres", nil
	default:
		return "", fmt.Errorf("unsupported dialect %s", db.Dialect().Name())
	}
}

func newMigrator(db *bun.DB) (*migrate.Migrator, error) {
	dir, err := dialectDir(db)
	if err != nil {
		return nil, err
	}
	sub, err := GetMigrationsFS(dir)
	if err != nil {
		return nil, err
	}

	migrations := migrate.NewMigrations()
	if err := migrations.Discover(sub); err != nil {
		return nil, fmt.Errorf("discover migrations: %w", err)
	}

	return migrate.NewMigrator(db, migrations,
		migrate.WithTableName(MigrationsTable),
		migrate.WithLocksTableName(MigrationLocksTable),
	), nil
}

// Migrate applies pending migrations and returns the names applied.
func Migrate(ctx context.Context, db *bun.DB) ([]string, error) {
	migrator, err := newMigrator(db)
	if err != nil {
		return nil, err
	}
	if err := migrator.Init(ctx); err != nil {
		return nil, fmt.Errorf("init migrations: %w", err)
	}

	if err := migrator.Lock(ctx); err != nil {
		return nil, fmt.Errorf("lock migrations: %w", err)
	}
	defer migrator.Unlock(ctx)

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	applied := make([]string, 0, len(group.Migrations))
	for _, m := range group.Migrations {
		applied = append(applied, m.Name)
	}
	return applied, nil
}

// Rollback reverts the last applied migration group.
func Rollback(ctx context.Context, db *bun.DB) ([]string, error) {
	migrator, err := newMigrator(db)
	if err != nil {
		return nil, err
	}
	if err := migrator.Init(ctx); err != nil {
		return nil, fmt.Errorf("init migrations: %w", err)
	}

	if err := migrator.Lock(ctx); err != nil {
		return nil, fmt.Errorf("lock migrations: %w", err)
	}
	defer migrator.Unlock(ctx)

	group, err := migrator.Rollback(ctx)
	if err != nil {
		return nil, fmt.Errorf("rollback: %w", err)
	}

	reverted := make([]string, 0, len(group.Migrations))
	for _, m := range group.Migrations {
		reverted = append(reverted, m.Name)
	}
	return reverted, nil
}
