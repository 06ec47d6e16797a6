package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/Mayor78/mtbm-attendance-sub000/models"
)

type Opts struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

func DefaultOpts() Opts {
	return Opts{
		BaseDelay:   models.DefaultRetryBaseDelay,
		MaxDelay:    models.DefaultRetryMaxDelay,
		MaxAttempts: models.DefaultRetryMaxAttempts,
	}
}

// ClassifierFunc decides whether a failure is worth another attempt.
type ClassifierFunc func(error) models.ErrorClass

// Do runs fn until it succeeds, fails with a non-transient error, or exhausts
// opts.MaxAttempts. Non-transient errors are returned immediately without
// consuming the remaining attempts; after the last transient failure the last
// error is returned to the caller, which owns queuing/removal policy. The
// backoff sleep is cooperative and aborts when ctx is done.
func Do[R any](ctx context.Context, opts Opts, classify ClassifierFunc, fn func(ctx context.Context) (R, error)) (R, error) {
	var res R
	var lastErr error
	if classify == nil {
		classify = models.ClassifyError
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, opts.Delay(attempt-1)); err != nil {
				return res, lastErr
			}
		}
		if res, lastErr = fn(ctx); lastErr == nil {
			return res, nil
		}
		if classify(lastErr) != models.ErrorClass_Transient {
			return res, lastErr
		}
	}
	return res, lastErr
}

// Delay returns the wait before retrying after failed attempt number attempt
// (0-based): base * 2^attempt plus up to one base of jitter, capped at
// MaxDelay.
func (o Opts) Delay(attempt int) time.Duration {
	d := o.backoff(attempt)
	if o.BaseDelay > 0 {
		d += time.Duration(rand.Int63n(int64(o.BaseDelay)))
	}
	if d > o.MaxDelay {
		return o.MaxDelay
	}
	return d
}

func (o Opts) backoff(attempt int) time.Duration {
	d := o.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= o.MaxDelay || d < 0 {
			return o.MaxDelay
		}
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
