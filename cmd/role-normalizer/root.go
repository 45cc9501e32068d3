package main

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/kubev2v/role-normalizer/internal/config"
	"github.com/kubev2v/role-normalizer/internal/store"
	"github.com/kubev2v/role-normalizer/internal/store/model"
	"github.com/kubev2v/role-normalizer/pkg/objectstore"
	"github.com/spf13/cobra"
	"github.com/thoas/go-funk"
	"gorm.io/gorm"
)

const allDatasets = "all"

var rootCmd = &cobra.Command{
	Use:          "role-normalizer",
	Short:        "role-normalizer assigns canonical role ids to free-text role titles.",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(cursorCmd)
}

func validTargets() []string {
	targets := []string{allDatasets}
	for _, d := range model.Datasets {
		targets = append(targets, d.String())
	}
	return targets
}

// parseTarget expands a run target into the datasets it names.
func parseTarget(target string) ([]model.Dataset, error) {
	target = strings.ToLower(strings.TrimSpace(target))
	if !funk.Contains(validTargets(), target) {
		return nil, fmt.Errorf("dataset must be one of %s", strings.Join(validTargets(), ", "))
	}
	if target == allDatasets {
		return model.Datasets, nil
	}
	return []model.Dataset{model.Dataset(target)}, nil
}

func openStore(ctx context.Context, cfg *config.Config) (*gorm.DB, store.Store, error) {
	db, err := store.InitDB(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing data store: %w", err)
	}

	s := store.NewStore(db)
	if cfg.Database.Type != "pgsql" {
		// postgres schemas are owned by the migrate command
		if err := s.InitialMigration(ctx); err != nil {
			_ = s.Close()
			return nil, nil, fmt.Errorf("running initial migration: %w", err)
		}
	}
	return db, s, nil
}

// newObjectReader returns nil when no object storage endpoint is configured.
func newObjectReader(cfg *config.Config) (objectstore.Reader, error) {
	if cfg.S3.Endpoint == "" {
		return nil, nil
	}
	client, err := objectstore.NewClient(
		objectstore.WithEndpoint(cfg.S3.Endpoint),
		objectstore.WithAccessKey(cfg.S3.AccessKey),
		objectstore.WithSecretKey(cfg.S3.SecretKey),
		objectstore.WithSSL(cfg.S3.UseSSL),
	)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}
