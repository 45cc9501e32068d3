package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/kubev2v/role-normalizer/internal/config"
	"github.com/kubev2v/role-normalizer/internal/store"
	"github.com/kubev2v/role-normalizer/internal/store/model"
	"github.com/kubev2v/role-normalizer/pkg/log"
	"github.com/spf13/cobra"
)

var cursorCmd = &cobra.Command{
	Use:   "cursor",
	Short: "Inspect or reset the reconciliation cursors",
}

var cursorGetCmd = &cobra.Command{
	Use:   "get [dataset]",
	Short: "Display the cursor of one dataset, or of all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := allDatasets
		if len(args) == 1 {
			target = args[0]
		}
		datasets, err := parseTarget(target)
		if err != nil {
			return err
		}

		return withStore(func(ctx context.Context, s store.Store) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 8, 1, '\t', 0)
			fmt.Fprintln(w, "DATASET\tLAST PROCESSED ID\tUPDATED")
			for _, d := range datasets {
				c, err := s.Cursor().Get(ctx, d)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%d\t%s\n", c.Dataset, c.LastProcessedID, c.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		})
	},
}

var cursorResetCmd = &cobra.Command{
	Use:   "reset (dataset)",
	Short: "Restart the sweep of a dataset from its first record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dataset, err := model.ParseDataset(args[0])
		if err != nil {
			return err
		}

		return withStore(func(ctx context.Context, s store.Store) error {
			previous, err := resetCursor(ctx, s, dataset)
			if err != nil {
				return err
			}
			fmt.Printf("cursor of %s reset from %d\n", dataset, previous.LastProcessedID)
			return nil
		})
	},
}

func init() {
	cursorCmd.AddCommand(cursorGetCmd)
	cursorCmd.AddCommand(cursorResetCmd)
}

// resetCursor rewinds the cursor of dataset and returns its previous position.
func resetCursor(ctx context.Context, s store.Store, dataset model.Dataset) (model.Cursor, error) {
	var previous model.Cursor
	err := s.InTransaction(ctx, func(ctx context.Context) error {
		current, err := s.Cursor().Get(ctx, dataset)
		if err != nil {
			return err
		}
		previous = current
		_, err = s.Cursor().Save(ctx, current.Rewind())
		return err
	})
	return previous, err
}

func withStore(fn func(ctx context.Context, s store.Store) error) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("reading configuration: %w", err)
	}
	defer log.Setup(cfg.Service.LogLevel)()

	ctx := context.Background()
	_, s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(ctx, s)
}
