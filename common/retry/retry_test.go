package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Mayor78/mtbm-attendance-sub000/models"
)

func TestDo(t *testing.T) {
	opts := Opts{BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, MaxAttempts: 4}
	tests := map[string]struct {
		errs             []error
		expectedAttempts int
		expectedErr      error
	}{
		"returns first success": {
			errs:             []error{nil},
			expectedAttempts: 1,
		},
		"retries transient failures until success": {
			errs:             []error{models.NewTransientError("unreachable", nil), models.NewTransientError("unreachable", nil), nil},
			expectedAttempts: 3,
		},
		"stops immediately on conflict": {
			errs:             []error{models.NewConflictError("already recorded")},
			expectedAttempts: 1,
			expectedErr:      models.NewConflictError("already recorded"),
		},
		"stops immediately on terminal failure": {
			errs:             []error{models.NewTransientError("unreachable", nil), models.NewTerminalError("session expired", nil)},
			expectedAttempts: 2,
			expectedErr:      models.NewTerminalError("session expired", nil),
		},
		"returns last error after exhausting attempts": {
			errs: []error{
				models.NewTransientError("unreachable", nil),
				models.NewTransientError("unreachable", nil),
				models.NewTransientError("unreachable", nil),
				models.NewTransientError("still unreachable", nil),
			},
			expectedAttempts: 4,
			expectedErr:      models.NewTransientError("still unreachable", nil),
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			attempts := 0
			_, err := Do(context.Background(), opts, models.ClassifyError, func(ctx context.Context) (int, error) {
				err := test.errs[attempts]
				attempts++
				return attempts, err
			})
			if attempts != test.expectedAttempts {
				t.Errorf("incorrect attempt count: expected %d, got %d", test.expectedAttempts, attempts)
			}
			if test.expectedErr == nil {
				if err != nil {
					t.Errorf("unexpected error received %v", err)
				}
			} else if err == nil || err.Error() != test.expectedErr.Error() {
				t.Errorf("incorrect error: expected %v, got %v", test.expectedErr, err)
			}
		})
	}
}

func TestDoCancelledDuringBackoff(t *testing.T) {
	opts := Opts{BaseDelay: time.Hour, MaxDelay: 2 * time.Hour, MaxAttempts: 3}
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, opts, models.ClassifyError, func(ctx context.Context) (int, error) {
			attempts++
			return 0, models.NewTransientError("unreachable", nil)
		})
		done <- err
	}()
	// Let the first attempt fail and the backoff sleep start, then cancel.
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if attempts != 1 {
			t.Errorf("expected a single attempt before cancellation, got %d", attempts)
		}
		if models.ClassifyError(err) != models.ErrorClass_Transient {
			t.Errorf("expected the last operation error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("retry did not abort its backoff sleep on cancellation")
	}
}

func TestDelayMonotonicity(t *testing.T) {
	opts := Opts{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, MaxAttempts: 10}
	prev := time.Duration(0)
	for attempt := 0; attempt < 10; attempt++ {
		base := opts.backoff(attempt)
		if base < prev {
			t.Errorf("base delay shrank at attempt %d: %s < %s", attempt, base, prev)
		}
		if base > opts.MaxDelay {
			t.Errorf("base delay exceeded cap at attempt %d: %s", attempt, base)
		}
		for i := 0; i < 100; i++ {
			if d := opts.Delay(attempt); d > opts.MaxDelay {
				t.Fatalf("jittered delay exceeded cap at attempt %d: %s", attempt, d)
			}
		}
		prev = base
	}
}

func TestDoDefaultsUnclassifiedToTransient(t *testing.T) {
	opts := Opts{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxAttempts: 3}
	attempts := 0
	_, err := Do(context.Background(), opts, nil, func(ctx context.Context) (int, error) {
		attempts++
		return 0, errors.New("plain failure")
	})
	if attempts != 3 {
		t.Errorf("expected unclassified errors to be retried, got %d attempts", attempts)
	}
	if err == nil {
		t.Errorf("should have received error")
	}
}
