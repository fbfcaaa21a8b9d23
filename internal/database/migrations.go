package database

import (
	"embed"

	"wordchain-server/pkg/migration"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NewMigrator returns a migrator over the embedded schema.
func NewMigrator(pool *pgxpool.Pool, logger *zap.Logger) *migration.Migrator {
	return migration.NewMigrator(migrationsFS, "migrations", pool, logger)
}

// ApplyMigrations применяет все встроенные миграции.
func ApplyMigrations(pool *pgxpool.Pool, logger *zap.Logger) error {
	return NewMigrator(pool, logger).Up()
}
