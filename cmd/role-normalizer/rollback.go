package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kubev2v/role-normalizer/internal/config"
	"github.com/kubev2v/role-normalizer/internal/store"
	"github.com/kubev2v/role-normalizer/internal/store/model"
	"github.com/kubev2v/role-normalizer/pkg/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type RollbackOptions struct {
	Dataset   string
	ChunkSize int
	DryRun    bool
}

var rollbackOpts = &RollbackOptions{ChunkSize: 1000}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Clear the canonical role ids written by the routine and reset the dataset cursor",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return fmt.Errorf("reading configuration: %w", err)
		}
		defer log.Setup(cfg.Service.LogLevel)()

		dataset, err := model.ParseDataset(rollbackOpts.Dataset)
		if err != nil {
			return err
		}
		if rollbackOpts.ChunkSize < 1 {
			return fmt.Errorf("chunk size must be positive")
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		_, s, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		if rollbackOpts.DryRun {
			count, err := s.NormalizationLog().Count(ctx, dataset)
			if err != nil {
				return err
			}
			fmt.Printf("%d logged normalizations of %s would be rolled back\n", count, dataset)
			return nil
		}

		reset, err := rollback(ctx, s, dataset, rollbackOpts.ChunkSize)
		if err != nil {
			return err
		}
		fmt.Printf("%d records of %s reset\n", reset, dataset)
		return nil
	},
}

func init() {
	fs := rollbackCmd.Flags()
	fs.StringVarP(&rollbackOpts.Dataset, "dataset", "d", rollbackOpts.Dataset, "Dataset to roll back (cv, work_exp, job)")
	fs.IntVar(&rollbackOpts.ChunkSize, "chunk-size", rollbackOpts.ChunkSize, "Log entries reset per transaction")
	fs.BoolVar(&rollbackOpts.DryRun, "dry-run", rollbackOpts.DryRun, "Only count the logged normalizations")
	_ = rollbackCmd.MarkFlagRequired("dataset")
}

// rollback drains the normalization log of dataset chunk by chunk. Records
// whose canonical id changed since it was logged are left untouched. Each
// chunk and the cursor reset commit together, so the cursor never points
// past a reset record.
func rollback(ctx context.Context, s store.Store, dataset model.Dataset, chunkSize int) (int64, error) {
	logger := zap.S().Named("rollback").With("dataset", dataset)

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		var entries, reset int64
		err := s.InTransaction(ctx, func(ctx context.Context) error {
			// Reset deletes the entries it was given, so every chunk starts at the head of the log.
			chunk, err := s.NormalizationLog().List(ctx, dataset, 0, chunkSize)
			if err != nil {
				return err
			}
			entries = int64(len(chunk))
			if entries == 0 {
				return nil
			}

			if reset, err = s.Record().Reset(ctx, chunk); err != nil {
				return err
			}
			return s.Cursor().Delete(ctx, dataset)
		})
		if err != nil {
			return total, err
		}
		if entries == 0 {
			break
		}

		total += reset
		logger.Infow("chunk rolled back", "entries", entries, "reset", reset, "total", total)
	}

	// an empty log still restarts the sweep
	if err := s.Cursor().Delete(ctx, dataset); err != nil {
		return total, err
	}
	logger.Infow("rollback done", "reset", total)

	return total, nil
}
