package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/kubev2v/role-normalizer/internal/config"
	"github.com/kubev2v/role-normalizer/internal/normalizer"
	"github.com/kubev2v/role-normalizer/internal/replay"
	"github.com/kubev2v/role-normalizer/internal/replay/report"
	"github.com/kubev2v/role-normalizer/pkg/log"
	"github.com/kubev2v/role-normalizer/pkg/objectstore"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

type ReplayOptions struct {
	LogPath       string
	URL           string
	Auth          string
	Limit         int
	Seed          int64
	Dedup         bool
	Concurrency   int
	RatePerSecond float64
	Output        string
	OutputFile    string
	TitlesFile    string
	LogLevel      string

	credentials normalizer.Credentials
}

func DefaultReplayOptions() *ReplayOptions {
	return &ReplayOptions{
		Dedup:       true,
		Concurrency: 4,
		Output:      string(report.FormatText),
		LogLevel:    "info",
	}
}

func NewReplayLogCommand() *cobra.Command {
	o := DefaultReplayOptions()
	cmd := &cobra.Command{
		Use:   "replay-log [flags]",
		Short: "Replay a production normalization log against a candidate service and compare the results.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context())
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *ReplayOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.LogPath, "log", "l", o.LogPath, "Path of the request log, local or s3://bucket/key")
	fs.StringVarP(&o.URL, "url", "u", o.URL, "URL of the candidate normalization endpoint (defaults to NORMALIZER_URL)")
	fs.StringVarP(&o.Auth, "auth", "a", o.Auth, "Candidate credentials: user:password, its base64 encoding or a Basic authorization value")
	fs.IntVarP(&o.Limit, "limit", "n", o.Limit, "Replay a random sample of that many requests (0 replays them all)")
	fs.Int64VarP(&o.Seed, "seed", "s", o.Seed, "Seed of the random sample")
	fs.BoolVar(&o.Dedup, "dedup", o.Dedup, "Count each distinct title once")
	fs.IntVar(&o.Concurrency, "concurrency", o.Concurrency, "Candidate requests in flight")
	fs.Float64Var(&o.RatePerSecond, "rate", o.RatePerSecond, "Maximum candidate requests per second (0 means no limit)")
	fs.StringVarP(&o.Output, "output", "o", o.Output, fmt.Sprintf("Report format. One of: (%s).", strings.Join(report.Formats, ", ")))
	fs.StringVar(&o.OutputFile, "out", o.OutputFile, "Write the report to that file instead of stdout")
	fs.StringVarP(&o.TitlesFile, "non-normalized-titles", "w", o.TitlesFile, "Write the titles production could not normalize to that file")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Log level")
}

func (o *ReplayOptions) Complete(cmd *cobra.Command, args []string) error {
	if o.URL == "" {
		cfg, err := config.New()
		if err != nil {
			return fmt.Errorf("reading configuration: %w", err)
		}
		o.URL = cfg.Normalizer.URL
	}

	if o.Auth != "" {
		creds, err := parseAuth(o.Auth)
		if err != nil {
			return err
		}
		o.credentials = creds
	}

	if o.OutputFile == "" && o.Output == string(report.FormatXLSX) {
		o.OutputFile = fmt.Sprintf("replay-%s.xlsx", uuid.NewString())
	}
	return nil
}

func (o *ReplayOptions) Validate(args []string) error {
	if o.LogPath == "" {
		return errors.New("a request log is required")
	}
	if !funk.Contains(report.Formats, o.Output) {
		return fmt.Errorf("output format must be one of %s", strings.Join(report.Formats, ", "))
	}
	if o.Limit < 0 {
		return errors.New("limit must not be negative")
	}
	if o.Concurrency < 1 {
		return errors.New("concurrency must be positive")
	}
	if o.RatePerSecond < 0 {
		return errors.New("rate must not be negative")
	}
	return nil
}

func (o *ReplayOptions) Run(ctx context.Context) error {
	defer log.Setup(o.LogLevel)()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	logger := zap.S().Named("replay_log").With("run_id", uuid.NewString())

	objects, err := o.objectReader()
	if err != nil {
		return err
	}
	data, err := objectstore.ReadFile(ctx, objects, o.LogPath)
	if err != nil {
		return err
	}

	entries, stats, err := replay.ParseLog(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parsing %s: %w", o.LogPath, err)
	}
	logger.Infow("request log parsed", "path", o.LogPath, "rows", stats.Rows, "invalid", stats.Invalid, "entries", len(entries))

	if o.TitlesFile != "" {
		if err := writeLines(o.TitlesFile, replay.NonNormalizedTitles(entries)); err != nil {
			return err
		}
	}

	if o.Limit > 0 {
		entries = replay.Sample(entries, o.Limit, o.Seed)
		logger.Infow("sampled request log", "limit", o.Limit, "seed", o.Seed, "entries", len(entries))
	}

	candidate := normalizer.NewClient(o.URL, normalizer.WithCredentials(o.credentials))
	result, err := replay.Classify(ctx, entries, candidate, replay.Options{
		Concurrency:   o.Concurrency,
		Dedup:         o.Dedup,
		RatePerSecond: o.RatePerSecond,
	})
	if err != nil {
		return fmt.Errorf("replaying %s: %w", o.LogPath, err)
	}

	renderer, err := report.NewRenderer(report.Format(o.Output))
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if o.OutputFile != "" {
		f, err := os.Create(o.OutputFile)
		if err != nil {
			return fmt.Errorf("creating report file: %w", err)
		}
		defer f.Close()
		out = f
	}
	if err := renderer.Render(out, result); err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}
	if o.OutputFile != "" {
		logger.Infow("report written", "path", o.OutputFile, "format", o.Output)
	}

	return nil
}

func (o *ReplayOptions) objectReader() (objectstore.Reader, error) {
	if !objectstore.IsRemote(o.LogPath) {
		return nil, nil
	}
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}
	client, err := objectstore.NewClient(
		objectstore.WithEndpoint(cfg.S3.Endpoint),
		objectstore.WithAccessKey(cfg.S3.AccessKey),
		objectstore.WithSecretKey(cfg.S3.SecretKey),
		objectstore.WithSSL(cfg.S3.UseSSL),
	)
	if err != nil {
		return nil, fmt.Errorf("creating object storage client: %w", err)
	}
	return client, nil
}

// parseAuth accepts "user:password", its base64 encoding, or either form
// prefixed with "Basic ".
func parseAuth(auth string) (normalizer.Credentials, error) {
	auth = strings.TrimSpace(auth)
	if len(auth) > len("basic ") && strings.EqualFold(auth[:len("basic ")], "basic ") {
		auth = strings.TrimSpace(auth[len("basic "):])
	}

	if decoded, err := base64.StdEncoding.DecodeString(auth); err == nil && strings.Contains(string(decoded), ":") {
		auth = string(decoded)
	}

	username, password, ok := strings.Cut(auth, ":")
	if !ok || username == "" {
		return normalizer.Credentials{}, errors.New("auth must be user:password, base64 encoded or not")
	}
	return normalizer.Credentials{Username: username, Password: password}, nil
}

func writeLines(path string, lines []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	for _, l := range lines {
		if _, err := fmt.Fprintln(f, l); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return nil
}
