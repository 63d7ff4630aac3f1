// Package retry runs an operation under a bounded exponential backoff policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/shpitdev/listing-enricher/pkg/pipeline/core"
)

// ErrExhausted is matched (errors.Is) by the error returned when every
// attempt failed with a retryable error.
var ErrExhausted = errors.New("max retry attempts reached")

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first.
	MaxAttempts int
	BaseDelay   time.Duration
	// Multiplier scales the delay after each attempt (2 doubles it).
	Multiplier float64
	// MaxDelay caps a single delay. Zero means uncapped.
	MaxDelay time.Duration
	// JitterFrac applies +/- jitter to each delay (0.2 = +/-20%). Zero disables.
	JitterFrac float64

	// Retryable selects the errors worth another attempt. Nil retries nothing.
	Retryable func(error) bool
	// Sleep waits between attempts. Nil uses a timer that honours ctx.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// ExhaustedError wraps the last failure once the attempt ceiling is reached.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrExhausted.Error(), e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// Enrichment retries rate-limited model calls: 5 attempts sleeping
// 10s, 20s, 40s, 80s and 160s.
func Enrichment() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   10 * time.Second,
		Multiplier:  2,
		Retryable:   core.IsRateLimited,
	}
}

// StoreWrite retries batched store writes rejected with 403 or 429.
func StoreWrite() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   10 * time.Second,
		Multiplier:  2,
		Retryable:   core.IsThrottledWrite,
	}
}

// Delay returns the sleep after the given zero-based attempt, before jitter.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Do calls fn until it succeeds, returns a non-retryable error or the attempt
// ceiling is reached. A retryable failure is always followed by a backoff
// sleep, including the last one.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = timerSleep
	}

	var last error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return fmt.Errorf("%w (last error: %v)", err, last)
			}
			return err
		}
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		last = err
		if p.Retryable == nil || !p.Retryable(err) {
			return err
		}

		d := p.jitter(p.Delay(attempt))
		if p.OnRetry != nil {
			p.OnRetry(attempt, d, err)
		}
		if err := sleep(ctx, d); err != nil {
			return fmt.Errorf("%w (last error: %v)", err, last)
		}
	}
	return &ExhaustedError{Attempts: attempts, Err: last}
}

func (p Policy) jitter(d time.Duration) time.Duration {
	if p.JitterFrac <= 0 || d <= 0 {
		return d
	}
	j := 1 + (rand.Float64()*2-1)*p.JitterFrac
	return time.Duration(float64(d) * j)
}

func timerSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
