package worker_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/listing-enricher/pkg/pipeline/core"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/retry"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/worker"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestProcessAll_RetriesRateLimited(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	fn := func(_ context.Context, _ string) (string, error) {
		if calls.Add(1) <= 2 {
			return "", &core.RateLimitError{Op: "enrich", Err: errors.New("try again")}
		}
		return "ok", nil
	}

	policy := retry.Enrichment()
	policy.Sleep = noSleep
	out, err := worker.ProcessAll(context.Background(), []string{"row-1"}, fn, worker.Options{
		Workers:        1,
		RequestTimeout: time.Second,
		Retry:          policy,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.NoError(t, out[0].Err)
	assert.Equal(t, "ok", out[0].Output)
	assert.EqualValues(t, 3, calls.Load())
}

func TestProcessAll_DoesNotRetryPermanent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	fn := func(_ context.Context, _ string) (string, error) {
		calls.Add(1)
		return "", errors.New("permanent")
	}

	policy := retry.Enrichment()
	policy.Sleep = noSleep
	out, err := worker.ProcessAll(context.Background(), []string{"row-1"}, fn, worker.Options{
		Workers: 1,
		Retry:   policy,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.EqualError(t, out[0].Err, "permanent")
	assert.EqualValues(t, 1, calls.Load())
}

func TestProcessAll_ExhaustsRetryCeiling(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var delays []time.Duration
	policy := retry.Enrichment()
	policy.Sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		delays = append(delays, d)
		return nil
	}

	var calls atomic.Int32
	out, err := worker.ProcessAll(context.Background(), []string{"row-1"}, func(context.Context, string) (string, error) {
		calls.Add(1)
		return "", &core.RateLimitError{Err: errors.New("429")}
	}, worker.Options{Workers: 1, Retry: policy})

	require.NoError(t, err)
	assert.ErrorIs(t, out[0].Err, retry.ErrExhausted)
	assert.EqualValues(t, 5, calls.Load())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second, 80 * time.Second, 160 * time.Second}, delays)
}

func TestProcessAll_PartialOutputContinues(t *testing.T) {
	t.Parallel()

	fn := func(_ context.Context, row string) (string, error) {
		if row == "bad" {
			return "", errors.New("boom")
		}
		return "ok:" + row, nil
	}

	out, err := worker.ProcessAll(context.Background(), []string{"bad", "good"}, fn, worker.Options{Workers: 1})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.EqualError(t, out[0].Err, "boom")
	assert.NoError(t, out[1].Err)
	assert.Equal(t, "ok:good", out[1].Output)
}

func TestProcessAll_PreservesIndexUnderReordering(t *testing.T) {
	t.Parallel()

	items := make([]int, 40)
	for i := range items {
		items[i] = i
	}
	fn := func(_ context.Context, n int) (int, error) {
		// Later items finish first.
		time.Sleep(time.Duration(len(items)-n) * 100 * time.Microsecond)
		return n * n, nil
	}

	out, err := worker.ProcessAll(context.Background(), items, fn, worker.Options{Workers: 3})
	require.NoError(t, err)
	require.Len(t, out, len(items))
	for i, res := range out {
		assert.Equal(t, i, res.Index)
		assert.Equal(t, i, res.Input)
		assert.Equal(t, i*i, res.Output)
	}
}

func TestProcessAll_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	fn := func(_ context.Context, _ int) (struct{}, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return struct{}{}, nil
	}

	_, err := worker.ProcessAll(context.Background(), make([]int, 30), fn, worker.Options{Workers: 3})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Positive(t, peak.Load())
}

func TestProcessAll_Empty(t *testing.T) {
	t.Parallel()

	out, err := worker.ProcessAll(context.Background(), nil, func(context.Context, string) (string, error) {
		t.Fatal("processor must not run")
		return "", nil
	}, worker.Options{})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestProcessAllWithCallback_CompletesInCompletionOrder(t *testing.T) {
	t.Parallel()

	releaseSlow := make(chan struct{})
	startedSlow := make(chan struct{})
	var firstCallbackInput atomic.Value
	firstCallbackInput.Store("")

	fn := func(_ context.Context, row string) (string, error) {
		if row == "slow" {
			close(startedSlow)
			<-releaseSlow
		}
		return row, nil
	}

	var mu sync.Mutex
	var seen []string
	doneErr := make(chan error, 1)
	go func() {
		_, err := worker.ProcessAllWithCallback(
			context.Background(),
			[]string{"slow", "fast"},
			fn,
			func(res worker.Result[string, string]) error {
				mu.Lock()
				defer mu.Unlock()
				seen = append(seen, res.Input)
				if len(seen) == 1 {
					firstCallbackInput.Store(res.Input)
				}
				return nil
			},
			worker.Options{Workers: 2},
		)
		doneErr <- err
	}()

	select {
	case <-startedSlow:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for slow task to start")
	}

	require.Eventually(t, func() bool {
		return firstCallbackInput.Load().(string) == "fast"
	}, time.Second, 10*time.Millisecond)

	close(releaseSlow)
	select {
	case err := <-doneErr:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, slices.Equal(seen, []string{"fast", "slow"}), "unexpected callback order: %v", seen)
}

func TestProcessAllWithCallback_CallbackErrorStopsRun(t *testing.T) {
	t.Parallel()

	callbackErr := errors.New("callback failed")
	_, err := worker.ProcessAllWithCallback(
		context.Background(),
		[]string{"row-1"},
		func(_ context.Context, row string) (string, error) {
			return row, nil
		},
		func(worker.Result[string, string]) error {
			return callbackErr
		},
		worker.Options{Workers: 1},
	)
	assert.ErrorIs(t, err, callbackErr)
}
