// Package retry runs an operation under a bounded attempt budget.
package retry

import (
	"context"
	"time"

	"github.com/technosupport/ts-vigil/internal/data"
)

// Backoff returns the delay before the given retry (1 for the first retry).
type Backoff func(retry int) time.Duration

// Fixed waits d between every attempt.
func Fixed(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}

// Exponential waits base, base*factor, base*factor^2, ...
func Exponential(base time.Duration, factor float64) Backoff {
	return func(retry int) time.Duration {
		d := float64(base)
		for i := 1; i < retry; i++ {
			d *= factor
		}
		return time.Duration(d)
	}
}

// Schedule uses the listed delays in order and repeats the last one.
func Schedule(delays ...time.Duration) Backoff {
	return func(retry int) time.Duration {
		if len(delays) == 0 {
			return 0
		}
		if retry > len(delays) {
			return delays[len(delays)-1]
		}
		return delays[retry-1]
	}
}

type Policy struct {
	// Attempts is the total number of tries including the first one.
	Attempts int
	Backoff  Backoff
	// Retryable overrides the default data.IsPermanent classification.
	Retryable func(error) bool
}

// Do calls fn until it succeeds, returns a non-retryable error, runs out of
// attempts or ctx ends. It returns the number of attempts made and the last
// error.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) (int, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = func(err error) bool { return !data.IsPermanent(err) }
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if attempt == attempts || !retryable(err) {
			return attempt, err
		}
		if p.Backoff != nil {
			if werr := wait(ctx, p.Backoff(attempt)); werr != nil {
				return attempt, err
			}
		} else if ctx.Err() != nil {
			return attempt, err
		}
	}
	return attempts, err
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
