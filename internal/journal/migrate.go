package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	dbmigrations "github.com/quantloop/quantloop/db/migrations"
	"github.com/quantloop/quantloop/internal/obs"
)

// Migrate ensures the embedded journal migrations are applied to the
// Postgres instance reachable via dsn.
func Migrate(ctx context.Context, dsn string) error {
	return withMigrator(ctx, dsn, func(m *migrate.Migrate) error {
		if err := m.Up(); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				obs.Log().Info("journal migrations up-to-date")
				return nil
			}
			return fmt.Errorf("apply migrations: %w", err)
		}
		obs.Log().Info("journal migrations applied")
		return nil
	})
}

// Rollback reverts every journal migration.
func Rollback(ctx context.Context, dsn string) error {
	return withMigrator(ctx, dsn, func(m *migrate.Migrate) error {
		if err := m.Down(); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				return nil
			}
			return fmt.Errorf("revert migrations: %w", err)
		}
		obs.Log().Info("journal migrations reverted")
		return nil
	})
}

func withMigrator(ctx context.Context, dsn string, fn func(*migrate.Migrate) error) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migrations connection: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			obs.Log().Error("migrations close", obs.Err(cerr))
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping migrations database: %w", err)
	}

	var driverConfig pgxv5.Config
	driver, err := pgxv5.WithInstance(db, &driverConfig)
	if err != nil {
		return fmt.Errorf("initialise pgx v5 driver: %w", err)
	}

	source, err := iofs.New(dbmigrations.Files, ".")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("initialise migrate instance: %w", err)
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if sourceErr != nil {
			obs.Log().Error("migrations source close", obs.Err(sourceErr))
		}
		if dbErr != nil {
			obs.Log().Error("migrations db close", obs.Err(dbErr))
		}
	}()

	return fn(m)
}
