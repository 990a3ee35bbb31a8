package storage

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FooledKiwi/carepath/internal/migrations"
)

// RunMigrations applies all pending SQL migrations and verifies the schema.
// It delegates to the migrations package, which tracks applied versions in the
// schema_migrations table so repeated startups are idempotent.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if err := migrations.Run(ctx, pool); err != nil {
		return err
	}

	return migrations.CheckSchema(ctx, pool)
}
