package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	apiserver "github.com/kubev2v/role-normalizer/internal/api_server"
	"github.com/kubev2v/role-normalizer/internal/abtest"
	"github.com/kubev2v/role-normalizer/internal/config"
	"github.com/kubev2v/role-normalizer/internal/events"
	"github.com/kubev2v/role-normalizer/internal/normalizer"
	"github.com/kubev2v/role-normalizer/internal/routine"
	"github.com/kubev2v/role-normalizer/internal/secrets"
	"github.com/kubev2v/role-normalizer/pkg/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type RunOptions struct {
	Once           bool
	MaxCycles      int
	ReadBatchSize  int
	APIBatchSize   int
	WriteBatchSize int
	QueueBatchSize int
	Concurrency    int
	NoDedup        bool
	IdleInterval   time.Duration
}

var runOpts = &RunOptions{}

var runCmd = &cobra.Command{
	Use:       fmt.Sprintf("run (%s)", strings.Join(validTargets(), " | ")),
	Short:     "Run the normalization routine of one dataset, or of all of them",
	Args:      cobra.ExactArgs(1),
	ValidArgs: validTargets(),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return fmt.Errorf("reading configuration: %w", err)
		}
		defer log.Setup(cfg.Service.LogLevel)()

		datasets, err := parseTarget(args[0])
		if err != nil {
			return err
		}
		opts := runOpts.routineOptions(cmd.Flags(), cfg)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		db, s, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		client, err := newNormalizerClient(ctx, cfg)
		if err != nil {
			return err
		}

		producer := events.NewEventProducer(&events.StdoutWriter{}, events.WithOutputTopic(cfg.Service.EventTopic))
		defer func() { _ = producer.Close() }()
		publisher := events.NewReindexPublisher(producer)

		listener, err := newListener(cfg.Service.MetricsAddress)
		if err != nil {
			return fmt.Errorf("creating listener: %w", err)
		}
		metricServer := apiserver.NewMetricServer(cfg.Service.MetricsAddress, listener, pingDB(db))
		go func() {
			if err := metricServer.Run(ctx); err != nil {
				zap.S().Named("run").Errorw("metrics server stopped", "error", err)
			}
		}()

		ropts := []routine.RoutineOption{routine.WithPublisher(publisher)}
		if cfg.ABTest.Enabled() {
			ropts = append(ropts, routine.WithOwnerFilter(newABTestClient(cfg)))
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, dataset := range datasets {
			r := routine.New(dataset, s, client, opts, ropts...)
			g.Go(func() error {
				if err := r.Run(gctx); err != nil {
					return fmt.Errorf("routine %s: %w", dataset, err)
				}
				return nil
			})
		}

		err = g.Wait()
		// stop the metrics server when the routines ended on their own
		cancel()
		return err
	},
}

func init() {
	runOpts.Bind(runCmd.Flags())
}

func (o *RunOptions) Bind(fs *pflag.FlagSet) {
	fs.BoolVar(&o.Once, "once", o.Once, "Exit once the dataset is caught up")
	fs.IntVar(&o.MaxCycles, "max-cycles", o.MaxCycles, "Exit after that many cycles (0 means no limit)")
	fs.IntVar(&o.ReadBatchSize, "read-batch-size", o.ReadBatchSize, "Records selected per cycle")
	fs.IntVar(&o.APIBatchSize, "api-batch-size", o.APIBatchSize, "Titles sent per normalization request")
	fs.IntVar(&o.WriteBatchSize, "write-batch-size", o.WriteBatchSize, "Results written per transaction")
	fs.IntVar(&o.QueueBatchSize, "queue-batch-size", o.QueueBatchSize, "Owners per reindex event")
	fs.IntVar(&o.Concurrency, "concurrency", o.Concurrency, "Normalization requests in flight per cycle")
	fs.BoolVar(&o.NoDedup, "no-dedup", o.NoDedup, "Send duplicate titles of a batch as they are")
	fs.DurationVar(&o.IdleInterval, "idle-interval", o.IdleInterval, "Sleep between sweeps once the dataset is caught up")
}

// routineOptions starts from the configuration and applies the flags set on the command line.
func (o *RunOptions) routineOptions(fs *pflag.FlagSet, cfg *config.Config) routine.Options {
	opts := routine.Options{
		ReadBatchSize:  cfg.Routine.ReadBatchSize,
		WriteBatchSize: cfg.Routine.WriteBatchSize,
		QueueBatchSize: cfg.Routine.QueueBatchSize,
		Concurrency:    cfg.Routine.Concurrency,
		Limits: routine.Limits{
			MaxTitles: cfg.Routine.APIBatchSize,
			MaxBytes:  cfg.Routine.MaxPayloadBytes,
			Dedup:     cfg.Routine.Dedup,
		},
		IdleInterval:      cfg.Routine.IdleInterval,
		FailureBackoff:    cfg.Routine.FailureBackoff,
		MaxFailureBackoff: cfg.Routine.MaxFailureBackoff,
		FatalBackoff:      cfg.Routine.FatalBackoff,
		RetryUnmatched:    cfg.Routine.RetryUnmatched,
		Once:              o.Once,
		MaxCycles:         o.MaxCycles,
	}

	if fs.Changed("read-batch-size") {
		opts.ReadBatchSize = o.ReadBatchSize
	}
	if fs.Changed("api-batch-size") {
		opts.Limits.MaxTitles = o.APIBatchSize
	}
	if fs.Changed("write-batch-size") {
		opts.WriteBatchSize = o.WriteBatchSize
	}
	if fs.Changed("queue-batch-size") {
		opts.QueueBatchSize = o.QueueBatchSize
	}
	if fs.Changed("concurrency") {
		opts.Concurrency = o.Concurrency
	}
	if fs.Changed("no-dedup") {
		opts.Limits.Dedup = !o.NoDedup
	}
	if fs.Changed("idle-interval") {
		opts.IdleInterval = o.IdleInterval
	}
	return opts
}

func newNormalizerClient(ctx context.Context, cfg *config.Config) (*normalizer.Client, error) {
	objects, err := newObjectReader(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating object storage client: %w", err)
	}

	creds, err := secrets.Resolve(ctx, secrets.Sources{
		File:     cfg.Normalizer.CredentialsFile,
		Object:   cfg.Normalizer.CredentialsObj,
		Username: cfg.Normalizer.Username,
		Password: cfg.Normalizer.Password,
	}, objects)
	switch {
	case errors.Is(err, secrets.ErrNoCredentials):
		zap.S().Named("run").Warn("no credentials configured: calling the normalization service without authentication")
	case err != nil:
		return nil, fmt.Errorf("resolving credentials: %w", err)
	}

	return normalizer.NewClient(
		cfg.Normalizer.URL,
		normalizer.WithCredentials(creds),
		normalizer.WithAttemptTimeout(cfg.Normalizer.AttemptTimeout),
		normalizer.WithRetryPolicy(normalizer.RetryPolicy{
			MaxAttempts: cfg.Normalizer.MaxAttempts,
			BaseDelay:   cfg.Normalizer.BaseDelay,
			MaxDelay:    cfg.Normalizer.MaxDelay,
			Jitter:      cfg.Normalizer.Jitter,
			Budget:      cfg.Normalizer.BatchBudget,
		}),
	), nil
}

func newABTestClient(cfg *config.Config) *abtest.Client {
	zap.S().Named("run").Infow("restricting the routine to an ab test group", "test", cfg.ABTest.Name, "group", cfg.ABTest.Group)
	return abtest.NewClient(
		cfg.ABTest.Host,
		cfg.ABTest.Name,
		cfg.ABTest.Group,
		abtest.WithAuthorization(cfg.ABTest.Auth),
		abtest.WithAttemptTimeout(cfg.ABTest.AttemptTimeout),
		abtest.WithRetryPolicy(normalizer.RetryPolicy{
			MaxAttempts: cfg.ABTest.MaxAttempts,
			BaseDelay:   cfg.ABTest.RetryDelay,
			MaxDelay:    cfg.ABTest.RetryDelay,
		}),
	)
}

func pingDB(db *gorm.DB) apiserver.HealthFunc {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}
