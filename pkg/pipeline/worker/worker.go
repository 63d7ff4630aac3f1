package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"

	"github.com/shpitdev/listing-enricher/pkg/pipeline/retry"
)

type Options struct {
	// Workers bounds the number of items processed at once. Remaining items
	// queue until a slot frees.
	Workers int

	// RequestTimeout bounds a single attempt. Zero disables it.
	RequestTimeout time.Duration

	// RateLimitRPS is a global limit across all workers. Set to <=0 to disable.
	RateLimitRPS float64

	// Retry decides which failures are retried in place and how long to back off.
	// The zero value makes one attempt per item.
	Retry retry.Policy
}

// Result holds the output for one input item. Index is the item's position
// in the input slice.
type Result[In any, Out any] struct {
	Index  int
	Input  In
	Output Out
	Err    error
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 3
	}
	if o.RequestTimeout < 0 {
		o.RequestTimeout = 0
	}
	return o
}

// ProcessAll runs the processor over all input items. out[i] always belongs
// to items[i]; per-item failures are reported in Result.Err and never stop
// other items.
func ProcessAll[In any, Out any](
	ctx context.Context,
	items []In,
	processor func(context.Context, In) (Out, error),
	opts Options,
) ([]Result[In, Out], error) {
	return ProcessAllWithCallback(ctx, items, processor, nil, opts)
}

// ProcessAllWithCallback runs the processor over all input items and invokes onResult
// as each item completes. The callback receives completion-order results; an
// error from it stops submission of further items and is returned.
func ProcessAllWithCallback[In any, Out any](
	ctx context.Context,
	items []In,
	processor func(context.Context, In) (Out, error),
	onResult func(Result[In, Out]) error,
	opts Options,
) ([]Result[In, Out], error) {
	opts = opts.withDefaults()
	out := make([]Result[In, Out], len(items))
	if len(items) == 0 {
		return out, ctx.Err()
	}

	pool, err := ants.NewPool(opts.Workers)
	if err != nil {
		return nil, fmt.Errorf("worker pool: %w", err)
	}
	defer pool.Release()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var limiter *rate.Limiter
	if opts.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1)
	}

	// Buffered to len(items) so a finished task never waits on the collector.
	done := make(chan Result[In, Out], len(items))
	submitted := make([]bool, len(items))

	var wg sync.WaitGroup
	var submitErr error
	go func() {
		defer func() {
			wg.Wait()
			close(done)
		}()
		for i, item := range items {
			if runCtx.Err() != nil {
				return
			}
			wg.Add(1)
			submitted[i] = true
			err := pool.Submit(func() {
				defer wg.Done()
				done <- processOne(runCtx, i, item, processor, limiter, opts)
			})
			if err != nil {
				wg.Done()
				submitted[i] = false
				submitErr = fmt.Errorf("submit item %d: %w", i, err)
				return
			}
		}
	}()

	var mu sync.Mutex
	var firstErr error
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
	}

	for res := range done {
		out[res.Index] = res
		if onResult != nil {
			if err := onResult(res); err != nil {
				fail(err)
			}
		}
	}

	// The submitter has returned once done is closed.
	if submitErr != nil {
		return nil, submitErr
	}
	mu.Lock()
	err = firstErr
	mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		for i := range out {
			if !submitted[i] {
				out[i] = Result[In, Out]{Index: i, Input: items[i], Err: err}
			}
		}
		return out, err
	}
	return out, nil
}

func processOne[In any, Out any](
	ctx context.Context,
	idx int,
	item In,
	processor func(context.Context, In) (Out, error),
	limiter *rate.Limiter,
	opts Options,
) Result[In, Out] {
	res, err := processWithRetry(ctx, item, processor, limiter, opts)
	return Result[In, Out]{
		Index:  idx,
		Input:  item,
		Output: res,
		Err:    err,
	}
}

func processWithRetry[In any, Out any](
	ctx context.Context,
	item In,
	processor func(context.Context, In) (Out, error),
	limiter *rate.Limiter,
	opts Options,
) (Out, error) {
	var lastOut Out
	err := opts.Retry.Do(ctx, func(ctx context.Context, _ int) error {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}

		reqCtx := ctx
		var cancel context.CancelFunc
		if opts.RequestTimeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, opts.RequestTimeout)
		}
		result, err := processor(reqCtx, item)
		lastOut = result
		if cancel != nil {
			cancel()
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	})
	return lastOut, err
}
