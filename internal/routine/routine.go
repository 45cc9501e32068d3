package routine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/kubev2v/role-normalizer/internal/normalizer"
	"github.com/kubev2v/role-normalizer/internal/store"
	"github.com/kubev2v/role-normalizer/internal/store/model"
	"github.com/kubev2v/role-normalizer/pkg/metrics"
	"github.com/kubev2v/role-normalizer/pkg/requestid"
	"github.com/lthibault/jitterbug/v2"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Publisher is notified of owners whose records received a canonical role.
type Publisher interface {
	PublishReindex(ctx context.Context, dataset model.Dataset, ownerIDs []uint64) error
}

// OwnerFilter tells whether the records of an owner take part in the run.
type OwnerFilter interface {
	Allow(ctx context.Context, ownerID uint64) (bool, error)
}

// minBackoff is the shortest sleep between two cycles.
const minBackoff = 10 * time.Millisecond

type Options struct {
	ReadBatchSize  int
	WriteBatchSize int
	// QueueBatchSize is the number of owners per reindex event.
	QueueBatchSize int
	// Concurrency is the number of normalization requests in flight per cycle.
	Concurrency int
	Limits      Limits

	IdleInterval      time.Duration
	FailureBackoff    time.Duration
	MaxFailureBackoff time.Duration
	FatalBackoff      time.Duration
	// RetryUnmatched is how long an unmatched record is left alone before it is selected again.
	RetryUnmatched time.Duration

	// Once stops the routine the first time it catches up.
	Once bool
	// MaxCycles stops the routine after that many cycles. Zero means no limit.
	MaxCycles int
}

func DefaultOptions() Options {
	return Options{
		ReadBatchSize:     5000,
		WriteBatchSize:    250,
		QueueBatchSize:    100,
		Concurrency:       1,
		Limits:            Limits{MaxTitles: 1000, MaxBytes: 1 << 20, Dedup: true},
		IdleInterval:      5 * time.Minute,
		FailureBackoff:    10 * time.Second,
		MaxFailureBackoff: 5 * time.Minute,
		FatalBackoff:      15 * time.Minute,
		RetryUnmatched:    7 * 24 * time.Hour,
	}
}

type CycleResult struct {
	// Cursor is the cursor to start the next cycle from.
	Cursor    model.Cursor
	Selected  int
	Matched   int
	Unmatched int
	Malformed int
	// Filtered counts the records left out by the owner filter.
	Filtered int
	Written  int64
	// CaughtUp is set when no record was left to select.
	CaughtUp bool
}

// Routine reconciles the role records of one dataset against the normalization service.
type Routine struct {
	dataset    model.Dataset
	store      store.Store
	normalizer normalizer.Normalizer
	publisher  Publisher
	filter     OwnerFilter
	opts       Options
	state      atomic.Int32
	now        func() time.Time
	log        *zap.SugaredLogger
}

type RoutineOption func(r *Routine)

func WithPublisher(p Publisher) RoutineOption {
	return func(r *Routine) {
		r.publisher = p
	}
}

// WithOwnerFilter restricts normalization to the records of the owners f allows.
func WithOwnerFilter(f OwnerFilter) RoutineOption {
	return func(r *Routine) {
		r.filter = f
	}
}

func WithClock(now func() time.Time) RoutineOption {
	return func(r *Routine) {
		r.now = now
	}
}

func New(dataset model.Dataset, s store.Store, n normalizer.Normalizer, opts Options, ropts ...RoutineOption) *Routine {
	r := &Routine{
		dataset:    dataset,
		store:      s,
		normalizer: n,
		opts:       opts,
		now:        time.Now,
		log:        zap.S().Named("routine").With("dataset", dataset),
	}
	for _, o := range ropts {
		o(r)
	}
	if r.opts.Concurrency < 1 {
		r.opts.Concurrency = 1
	}
	if r.opts.WriteBatchSize < 1 {
		r.opts.WriteBatchSize = r.opts.ReadBatchSize
	}
	if r.opts.QueueBatchSize < 1 {
		r.opts.QueueBatchSize = DefaultOptions().QueueBatchSize
	}
	r.opts.IdleInterval = max(r.opts.IdleInterval, minBackoff)
	r.opts.FailureBackoff = max(r.opts.FailureBackoff, minBackoff)
	r.opts.MaxFailureBackoff = max(r.opts.MaxFailureBackoff, r.opts.FailureBackoff)
	r.opts.FatalBackoff = max(r.opts.FatalBackoff, minBackoff)
	return r
}

func (r *Routine) State() State {
	return State(r.state.Load())
}

func (r *Routine) Dataset() model.Dataset {
	return r.dataset
}

// Run drives cycles until ctx is cancelled or, in once mode, until the
// dataset is caught up. Failures never stop the loop: they put it to sleep.
func (r *Routine) Run(ctx context.Context) error {
	defer r.transition(StateStopped)

	r.log.Infow("starting routine", "read_batch_size", r.opts.ReadBatchSize, "api_batch_size", r.opts.Limits.MaxTitles, "concurrency", r.opts.Concurrency)

	cursor, err := r.loadCursor(ctx)
	if err != nil {
		return nil // cancelled while waiting for the database
	}

	failures := 0
	for cycles := 1; ; cycles++ {
		r.transition(StateIdle)
		if ctx.Err() != nil {
			r.log.Info("shutdown requested, stopping routine")
			return nil
		}

		var wait time.Duration
		res, err := r.RunCycle(ctx, cursor)
		switch {
		case errors.Is(err, ErrShutdown):
			r.log.Info("shutdown requested, stopping routine")
			return nil
		case err != nil:
			failures++
			class := Classify(err)
			metrics.IncreaseCycleFailuresMetric(r.dataset.String(), class)
			if normalizer.IsFatal(err) {
				wait = r.opts.FatalBackoff
				r.log.Errorw("cycle failed", "class", class, "cursor", cursor.LastProcessedID, "backoff", wait, "error", err)
				if r.opts.Once {
					return err
				}
			} else {
				wait = r.failureBackoff(failures)
				r.log.Warnw("cycle failed, will retry", "class", class, "cursor", cursor.LastProcessedID, "attempt", failures, "backoff", wait, "error", err)
			}
		case res.CaughtUp:
			failures = 0
			cursor = res.Cursor
			if r.opts.Once {
				r.log.Info("caught up, stopping routine")
				return nil
			}
			wait = r.opts.IdleInterval
			r.log.Debugw("caught up", "sleep", wait)
		default:
			failures = 0
			cursor = res.Cursor
		}

		if r.opts.MaxCycles > 0 && cycles >= r.opts.MaxCycles {
			r.log.Infow("cycle limit reached, stopping routine", "cycles", cycles)
			return nil
		}

		if wait > 0 && !r.sleep(ctx, wait) {
			return nil
		}
	}
}

// RunCycle selects, normalizes and persists one read batch, then saves the
// cursor. The cursor is saved only after the results were persisted, so a
// failure at any step leaves it where it was.
func (r *Routine) RunCycle(ctx context.Context, cursor model.Cursor) (CycleResult, error) {
	start := r.now()
	res := CycleResult{Cursor: cursor}

	if ctx.Err() != nil {
		return res, ErrShutdown
	}

	r.transition(StateSelecting)
	records, next, err := r.store.Record().NextBatch(ctx, cursor, r.opts.ReadBatchSize, r.retryBefore())
	if err != nil {
		return res, err
	}
	res.Selected = len(records)

	if len(records) == 0 {
		res.CaughtUp = true
		if cursor.LastProcessedID == 0 {
			return res, nil
		}
		// start a new sweep so records left unmatched get another chance
		r.transition(StateAdvancingCursor)
		saved, err := r.store.Cursor().Save(context.WithoutCancel(ctx), cursor.Rewind())
		if err != nil {
			return res, err
		}
		metrics.UpdateCursorPositionMetric(r.dataset.String(), saved.LastProcessedID)
		res.Cursor = saved
		return res, nil
	}

	if ctx.Err() != nil {
		return res, ErrShutdown
	}

	r.transition(StateBatching)
	records, res.Filtered, err = r.filterOwners(ctx, records)
	if err != nil {
		if ctx.Err() != nil {
			return res, ErrShutdown
		}
		return res, err
	}

	valid, malformed := partition(records, r.opts.Limits.MaxBytes)
	batches, err := MakeBatches(valid, r.opts.Limits)
	if err != nil {
		return res, err
	}

	if ctx.Err() != nil {
		return res, ErrShutdown
	}

	// past this point the cycle is not interrupted by shutdown
	wctx := context.WithoutCancel(ctx)
	attemptedAt := r.now().UTC().Truncate(time.Microsecond)

	r.transition(StateNormalizing)
	results, err := r.normalize(wctx, batches, attemptedAt)
	if err != nil {
		return res, err
	}

	for _, m := range malformed {
		r.log.Warnw("skipping record", "record_id", m.Record.ID, "error", m)
		results = append(results, model.NormalizationResult{
			RecordID:    m.Record.ID,
			OwnerID:     m.Record.OwnerID,
			AttemptedAt: attemptedAt,
		})
	}
	res.Malformed = len(malformed)

	owners := make([]uint64, 0, len(results))
	for _, result := range results {
		if result.Matched() {
			res.Matched++
			owners = append(owners, result.OwnerID)
		}
	}
	res.Unmatched = len(results) - res.Matched - res.Malformed

	r.transition(StatePersisting)
	written, err := r.persist(wctx, results)
	if err != nil {
		return res, err
	}
	res.Written = written

	r.publish(wctx, owners)

	r.transition(StateAdvancingCursor)
	saved, err := r.store.Cursor().Save(wctx, next)
	if err != nil {
		return res, err
	}
	res.Cursor = saved

	dataset := r.dataset.String()
	metrics.IncreaseRecordsProcessedMetric(dataset, "matched", res.Matched)
	metrics.IncreaseRecordsProcessedMetric(dataset, "unmatched", res.Unmatched)
	metrics.IncreaseRecordsProcessedMetric(dataset, "malformed", res.Malformed)
	metrics.IncreaseRecordsProcessedMetric(dataset, "filtered", res.Filtered)
	metrics.UpdateCursorPositionMetric(dataset, saved.LastProcessedID)
	metrics.ObserveCycleDuration(dataset, r.now().Sub(start))

	r.log.Infow("cycle completed",
		"selected", res.Selected,
		"batches", len(batches),
		"matched", res.Matched,
		"unmatched", res.Unmatched,
		"malformed", res.Malformed,
		"filtered", res.Filtered,
		"written", res.Written,
		"cursor", saved.LastProcessedID,
	)

	return res, nil
}

// filterOwners drops the records of owners the filter refuses. Each owner is
// checked once per cycle.
func (r *Routine) filterOwners(ctx context.Context, records []model.RoleRecord) ([]model.RoleRecord, int, error) {
	if r.filter == nil {
		return records, 0, nil
	}

	allowed := make(map[uint64]bool)
	kept := make([]model.RoleRecord, 0, len(records))
	for _, rec := range records {
		ok, seen := allowed[rec.OwnerID]
		if !seen {
			var err error
			if ok, err = r.filter.Allow(ctx, rec.OwnerID); err != nil {
				return nil, 0, err
			}
			allowed[rec.OwnerID] = ok
		}
		if ok {
			kept = append(kept, rec)
		}
	}
	if filtered := len(records) - len(kept); filtered > 0 {
		r.log.Debugw("records filtered out", "filtered", filtered, "owners", len(allowed))
	}
	return kept, len(records) - len(kept), nil
}

func (r *Routine) normalize(ctx context.Context, batches []Batch, attemptedAt time.Time) ([]model.NormalizationResult, error) {
	merged := make([][]model.NormalizationResult, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, batch := range batches {
		g.Go(func() error {
			id := requestid.Generate()
			ids, err := r.normalizer.Normalize(requestid.ToContext(gctx, id), batch.Titles)
			if err != nil {
				r.log.Debugw("batch failed", "request_id", id, "titles", len(batch.Titles), "error", err)
				return err
			}
			results, err := Merge(batch, ids, attemptedAt)
			if err != nil {
				return err
			}
			merged[i] = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var results []model.NormalizationResult
	for _, m := range merged {
		results = append(results, m...)
	}
	return results, nil
}

func (r *Routine) persist(ctx context.Context, results []model.NormalizationResult) (int64, error) {
	var written int64
	for start := 0; start < len(results); start += r.opts.WriteBatchSize {
		end := min(start+r.opts.WriteBatchSize, len(results))
		n, err := r.store.Record().Apply(ctx, r.dataset, results[start:end])
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

func (r *Routine) publish(ctx context.Context, owners []uint64) {
	if r.publisher == nil || len(owners) == 0 {
		return
	}
	owners = funk.Uniq(owners).([]uint64)
	for _, chunk := range funk.Chunk(owners, r.opts.QueueBatchSize).([][]uint64) {
		if err := r.publisher.PublishReindex(ctx, r.dataset, chunk); err != nil {
			r.log.Warnw("failed to publish reindex event", "owners", len(chunk), "error", err)
		}
	}
}

func (r *Routine) loadCursor(ctx context.Context) (model.Cursor, error) {
	for failures := 1; ; failures++ {
		cursor, err := r.store.Cursor().Get(ctx, r.dataset)
		if err == nil {
			metrics.UpdateCursorPositionMetric(r.dataset.String(), cursor.LastProcessedID)
			return cursor, nil
		}
		wait := r.failureBackoff(failures)
		r.log.Warnw("failed to load cursor, will retry", "backoff", wait, "error", err)
		if !r.sleep(ctx, wait) {
			return model.Cursor{}, ctx.Err()
		}
	}
}

func (r *Routine) retryBefore() time.Time {
	if r.opts.RetryUnmatched <= 0 {
		return time.Time{}
	}
	return r.now().UTC().Add(-r.opts.RetryUnmatched)
}

func (r *Routine) failureBackoff(failures int) time.Duration {
	wait := r.opts.FailureBackoff
	for i := 1; i < failures && wait < r.opts.MaxFailureBackoff; i++ {
		wait *= 2
	}
	if r.opts.MaxFailureBackoff > 0 && wait > r.opts.MaxFailureBackoff {
		wait = r.opts.MaxFailureBackoff
	}
	return wait
}

// sleep waits about d and reports whether the routine should go on.
func (r *Routine) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	r.transition(StateSleeping)

	ticker := jitterbug.New(d, &jitterbug.Norm{Stdev: d / 10})
	defer ticker.Stop()

	select {
	case <-ctx.Done():
		r.log.Info("shutdown requested, stopping routine")
		return false
	case <-ticker.C:
		return true
	}
}

func (r *Routine) transition(s State) {
	r.state.Store(int32(s))
	metrics.UpdateRoutineStateMetric(r.dataset.String(), s.String(), stateNames)
}
