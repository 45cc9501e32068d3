package main

import (
	"context"
	"fmt"

	"github.com/kubev2v/role-normalizer/internal/config"
	"github.com/kubev2v/role-normalizer/internal/store"
	"github.com/kubev2v/role-normalizer/pkg/log"
	"github.com/kubev2v/role-normalizer/pkg/migrations"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate the db",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return fmt.Errorf("reading configuration: %w", err)
		}
		defer log.Setup(cfg.Service.LogLevel)()

		logger := zap.S().Named("migrate")
		logger.Info("initializing data store")
		db, err := store.InitDB(cfg)
		if err != nil {
			return fmt.Errorf("initializing data store: %w", err)
		}

		s := store.NewStore(db)
		defer s.Close()

		if cfg.Database.Type == "pgsql" {
			if err := migrations.MigrateStore(db, cfg.Service.MigrationFolder); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
		} else if err := s.InitialMigration(context.Background()); err != nil {
			return fmt.Errorf("running initial migration: %w", err)
		}

		logger.Info("db migrated")
		return nil
	},
}
