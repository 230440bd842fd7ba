package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/technosupport/ts-vigil/internal/data"
	"github.com/technosupport/ts-vigil/internal/retry"
)

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	attempts, err := retry.Do(context.Background(), retry.Policy{Attempts: 3, Backoff: retry.Fixed(time.Millisecond)},
		func(ctx context.Context, attempt int) error {
			calls++
			if attempt < 3 {
				return errors.New("flaky")
			}
			return nil
		})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsAtCap(t *testing.T) {
	attempts, err := retry.Do(context.Background(), retry.Policy{Attempts: 3, Backoff: retry.Fixed(time.Millisecond)},
		func(ctx context.Context, attempt int) error { return errors.New("down") })

	assert.EqualError(t, err, "down")
	assert.Equal(t, 3, attempts)
}

func TestDo_PermanentNotRetried(t *testing.T) {
	attempts, err := retry.Do(context.Background(), retry.Policy{Attempts: 5, Backoff: retry.Fixed(time.Millisecond)},
		func(ctx context.Context, attempt int) error { return data.Permanent(errors.New("bad recipient")) })

	assert.Error(t, err)
	assert.True(t, data.IsPermanent(err))
	assert.Equal(t, 1, attempts)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	attempts, err := retry.Do(ctx, retry.Policy{Attempts: 3, Backoff: retry.Fixed(time.Hour)},
		func(ctx context.Context, attempt int) error { return errors.New("slow") })

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBackoffShapes(t *testing.T) {
	exp := retry.Exponential(time.Second, 2)
	assert.Equal(t, time.Second, exp(1))
	assert.Equal(t, 2*time.Second, exp(2))
	assert.Equal(t, 4*time.Second, exp(3))

	sched := retry.Schedule(500*time.Millisecond, 1500*time.Millisecond)
	assert.Equal(t, 500*time.Millisecond, sched(1))
	assert.Equal(t, 1500*time.Millisecond, sched(2))
	assert.Equal(t, 1500*time.Millisecond, sched(3))

	assert.Equal(t, time.Duration(0), retry.Schedule()(1))
}
