package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// newProvider opens a goose provider over the embedded migrations.
// The returned close func releases the database/sql handle, not the pool.
func newProvider(pool *pgxpool.Pool) (*goose.Provider, func(), error) {
	migrations, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return nil, nil, fmt.Errorf("open embedded migrations: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("create migration provider: %w", err)
	}
	return provider, func() { _ = db.Close() }, nil
}

// RunMigrations applies all pending migrations.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	provider, closeDB, err := newProvider(pool)
	if err != nil {
		return err
	}
	defer closeDB()

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	for _, r := range results {
		slog.Info("migration applied",
			"version", r.Source.Version,
			"duration", r.Duration,
		)
	}

	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("get migration version: %w", err)
	}

	slog.Info("migrations completed", "version", version, "applied", len(results))

	return nil
}

// MigrationStatus reports the current schema version and how many
// embedded migrations are not applied yet.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool) (version int64, pending int, err error) {
	provider, closeDB, err := newProvider(pool)
	if err != nil {
		return 0, 0, err
	}
	defer closeDB()

	statuses, err := provider.Status(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("migration status: %w", err)
	}
	for _, s := range statuses {
		if s.State == goose.StatePending {
			pending++
		}
	}

	version, err = provider.GetDBVersion(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("get migration version: %w", err)
	}
	return version, pending, nil
}
