package cli

import (
	"context"
	"database/sql"
	"errors"

	"liveboard/internal/config"
	pgmigrations "liveboard/internal/infra/postgres/migrations"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

var errNoPostgres = errors.New("postgres url not configured")

// NewMigrateCmd applies database migrations.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the quizzes table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runMigrationsWithConfig(cmd.Context(), cfg, log)
		},
	}
}

func runMigrationsWithConfig(ctx context.Context, cfg config.Config, log logrus.FieldLogger) error {
	if cfg.Postgres.URL == "" {
		return errNoPostgres
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return err
	}
	group, err := migrator.Migrate(ctx)
	if err != nil {
		return err
	}
	if group.IsZero() {
		log.Info("database schema up to date")
		return nil
	}
	log.WithField("group", group.String()).Info("migrations applied")
	return nil
}
