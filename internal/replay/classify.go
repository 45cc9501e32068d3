package replay

import (
	"context"
	"time"

	"github.com/kubev2v/role-normalizer/internal/normalizer"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type Category string

const (
	MatchUnnormalized Category = "match_unnormalized"
	MatchNormalized   Category = "match_normalized"
	Difference        Category = "difference"
	Regression        Category = "regression"
	Improvement       Category = "improvement"
)

// Categories in report order.
var Categories = []Category{MatchUnnormalized, MatchNormalized, Difference, Regression, Improvement}

// Compare classifies a candidate id against the production id.
func Compare(production, candidate *int64) Category {
	switch {
	case production == nil && candidate == nil:
		return MatchUnnormalized
	case production == nil:
		return Improvement
	case candidate == nil:
		return Regression
	case *production == *candidate:
		return MatchNormalized
	default:
		return Difference
	}
}

type ComparisonResult struct {
	Title        string
	ProductionID *int64
	CandidateID  *int64
	Category     Category
}

// Failure is a log entry whose candidate call failed.
type Failure struct {
	Line   int
	Titles []string
	Err    error
}

type Options struct {
	// Concurrency bounds the candidate calls in flight.
	Concurrency int
	// Dedup counts each distinct title once, first occurrence wins.
	Dedup bool
	// RatePerSecond caps candidate calls. Zero disables it.
	RatePerSecond float64
}

type entryOutcome struct {
	results []ComparisonResult
	err     error
}

// Classify replays entries against candidate and compares every title with
// the recorded production id. Entries whose call fails are reported apart and
// left out of the counts. An authentication failure aborts the run.
func Classify(ctx context.Context, entries []LogEntry, candidate normalizer.Normalizer, opts Options) (*Report, error) {
	start := time.Now()
	logger := zap.S().Named("replay")

	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}

	outcomes := make([]entryOutcome, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, opts.Concurrency))
	for i, entry := range entries {
		g.Go(func() error {
			if limiter != nil {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
			}

			ids, err := candidate.Normalize(gctx, entry.Titles)
			if err != nil {
				if normalizer.IsAuthFailure(err) {
					return err
				}
				logger.Warnw("candidate call failed", "line", entry.Line, "error", err)
				outcomes[i] = entryOutcome{err: err}
				return nil
			}
			if len(ids) != len(entry.Titles) {
				err := normalizer.NewErrLengthMismatch(len(entry.Titles), len(ids))
				logger.Warnw("candidate call failed", "line", entry.Line, "error", err)
				outcomes[i] = entryOutcome{err: err}
				return nil
			}

			results := make([]ComparisonResult, 0, len(entry.Titles))
			for j, title := range entry.Titles {
				results = append(results, ComparisonResult{
					Title:        title,
					ProductionID: entry.Production[j],
					CandidateID:  ids[j],
					Category:     Compare(entry.Production[j], ids[j]),
				})
			}
			outcomes[i] = entryOutcome{results: results}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := newReport(len(entries))
	seen := map[string]struct{}{}
	for i, o := range outcomes {
		if o.err != nil {
			report.Failures = append(report.Failures, Failure{Line: entries[i].Line, Titles: entries[i].Titles, Err: o.err})
			continue
		}
		for _, r := range o.results {
			if opts.Dedup {
				if _, ok := seen[r.Title]; ok {
					continue
				}
				seen[r.Title] = struct{}{}
			}
			report.add(r)
		}
	}
	report.Elapsed = time.Since(start)

	logger.Infow("replay completed", "entries", len(entries), "compared", report.Total(), "failed", len(report.Failures), "elapsed", report.Elapsed)

	return report, nil
}
