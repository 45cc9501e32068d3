package normalizer

import (
	"context"
	"time"

	"github.com/lthibault/jitterbug/v2"
)

// RetryPolicy drives retries of transient failures with exponential backoff.
// Budget bounds the total time spent on one call, attempts and waits included.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the standard deviation of the normal noise added to each delay.
	Jitter time.Duration
	Budget time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      250 * time.Millisecond,
		Budget:      3 * time.Minute,
	}
}

// Backoff returns the delay to wait after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.BaseDelay
	for i := 1; i < attempt && (p.MaxDelay <= 0 || delay < p.MaxDelay); i++ {
		delay *= 2
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.Jitter > 0 {
		j := &jitterbug.Norm{Stdev: p.Jitter}
		delay = j.Jitter(delay)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// Do runs fn until it succeeds, fails with a non transient error, or the
// attempts or the budget are exhausted. In the last case the returned error
// is an *ErrServiceTransient.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	if p.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Budget)
		defer cancel()
	}

	var (
		lastErr error
		attempt int
	)
	for attempt = 1; attempt <= maxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return NewErrServiceTransient(attempt, lastErr)
		case <-timer.C:
		}
	}

	return NewErrServiceTransient(maxAttempts, lastErr)
}
