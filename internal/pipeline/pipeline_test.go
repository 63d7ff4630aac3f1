package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/listing-enricher/internal/credential"
	"github.com/shpitdev/listing-enricher/internal/enrich"
	"github.com/shpitdev/listing-enricher/internal/pipeline"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/core"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/retry"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/schema"
)

type fetchFunc func(ctx context.Context, ref string) (*enrich.Image, error)

func (f fetchFunc) Fetch(ctx context.Context, ref string) (*enrich.Image, error) { return f(ctx, ref) }

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func instantPolicy(rec *sleepRecorder) retry.Policy {
	p := retry.Enrichment()
	p.Sleep = rec.Sleep
	return p
}

func testLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func mustRotator(t *testing.T, keys ...string) *credential.Rotator {
	t.Helper()
	r, err := credential.New(keys)
	require.NoError(t, err)
	return r
}

func TestBuildRowsUsesTitleColumnLength(t *testing.T) {
	t.Parallel()

	rows := pipeline.BuildRows([]string{"a", "b", "c"}, []string{"da"}, []string{"", "ib"}, 2)
	require.Len(t, rows, 3)
	assert.Equal(t, pipeline.Row{Index: 0, Position: 2, Title: "a", Description: "da"}, rows[0])
	assert.Equal(t, pipeline.Row{Index: 1, Position: 3, Title: "b", ImageRef: "ib"}, rows[1])
	assert.Equal(t, pipeline.Row{Index: 2, Position: 4, Title: "c"}, rows[2])
}

func TestEnrichRowsImageFailureFallsBackToText(t *testing.T) {
	t.Parallel()

	rows := pipeline.BuildRows(
		[]string{"時計", "財布", "鞄"},
		[]string{"d1", "d2", "d3"},
		[]string{"https://img/1.jpg", "https://img/broken.jpg", "https://img/3.jpg"},
		2,
	)
	images := fetchFunc(func(_ context.Context, ref string) (*enrich.Image, error) {
		if ref == "https://img/broken.jpg" {
			return nil, &core.TransportError{Op: "image.fetch", StatusCode: 404, Err: errors.New("not found")}
		}
		return &enrich.Image{MIMEType: "image/jpeg", Data: []byte(ref)}, nil
	})

	var mu sync.Mutex
	withImage := map[int]bool{}
	enricher := enrich.EnricherFunc(func(_ context.Context, req enrich.Request) (enrich.Result, error) {
		mu.Lock()
		withImage[req.Row] = req.Image != nil
		mu.Unlock()
		return enrich.Result{
			Title:       "EN " + req.Title,
			Description: req.Description,
			Attributes:  map[string]string{"Brand": "N/A"},
		}, nil
	})

	var logs bytes.Buffer
	results, err := pipeline.EnrichRows(context.Background(), rows, schema.NewAttributes([]string{"Brand"}), enricher,
		mustRotator(t, "k1"), pipeline.Options{Images: images, Logger: testLogger(&logs)})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		require.NotNil(t, r, "row %d", i)
	}
	assert.Equal(t, "EN 財布", results[1].Title)
	assert.Equal(t, map[int]bool{2: true, 3: false, 4: true}, withImage)
	assert.Contains(t, logs.String(), "stage=image")
}

func TestEnrichRowsRateLimitedRowExhaustsRetries(t *testing.T) {
	t.Parallel()

	rows := pipeline.BuildRows([]string{"a", "b", "c"}, nil, nil, 2)
	var calls [3]atomic.Int32
	enricher := enrich.EnricherFunc(func(_ context.Context, req enrich.Request) (enrich.Result, error) {
		calls[req.Row-2].Add(1)
		if req.Row == 3 {
			return enrich.Result{}, &core.RateLimitError{Op: "test", Err: errors.New("429")}
		}
		return enrich.Result{Title: req.Title}, nil
	})

	rec := &sleepRecorder{}
	var logs bytes.Buffer
	results, err := pipeline.EnrichRows(context.Background(), rows, schema.NewAttributes(nil), enricher,
		mustRotator(t, "k1"), pipeline.Options{Retry: instantPolicy(rec), Logger: testLogger(&logs)})
	require.NoError(t, err)

	assert.NotNil(t, results[0])
	assert.Nil(t, results[1])
	assert.NotNil(t, results[2])
	assert.EqualValues(t, 1, calls[0].Load())
	assert.EqualValues(t, 5, calls[1].Load())
	assert.EqualValues(t, 1, calls[2].Load())
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second, 80 * time.Second, 160 * time.Second}, rec.delays)
	out := logs.String()
	assert.Equal(t, 4, strings.Count(out, "rate limit reached; backing off"))
	final := strings.Index(out, "rate limit reached; final backoff before giving up")
	require.GreaterOrEqual(t, final, 0)
	assert.Contains(t, out[final:], "attempt=5")
	assert.Contains(t, out[final:], "delay=2m40s")
	assert.Greater(t, strings.Index(out, "max retry"), final)
}

func TestEnrichRowsDecodeFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	enricher := enrich.EnricherFunc(func(_ context.Context, _ enrich.Request) (enrich.Result, error) {
		calls.Add(1)
		return enrich.Result{}, &core.DecodeError{Op: "test", Err: errors.New("bad json")}
	})
	rec := &sleepRecorder{}
	results, err := pipeline.EnrichRows(context.Background(), pipeline.BuildRows([]string{"a"}, nil, nil, 2),
		schema.NewAttributes(nil), enricher, mustRotator(t, "k"), pipeline.Options{Retry: instantPolicy(rec), Logger: testLogger(&bytes.Buffer{})})
	require.NoError(t, err)
	assert.Nil(t, results[0])
	assert.EqualValues(t, 1, calls.Load())
	assert.Empty(t, rec.delays)
}

func TestEnrichRowsPreservesOrderAndRotatesCredentials(t *testing.T) {
	t.Parallel()

	titles := make([]string, 10)
	for i := range titles {
		titles[i] = string(rune('a' + i))
	}
	var mu sync.Mutex
	creds := map[int]string{}
	enricher := enrich.EnricherFunc(func(_ context.Context, req enrich.Request) (enrich.Result, error) {
		// Later rows finish first.
		time.Sleep(time.Duration(12-req.Row) * time.Millisecond)
		mu.Lock()
		creds[req.Row] = req.Credential
		mu.Unlock()
		return enrich.Result{Title: req.Title}, nil
	})

	var completed atomic.Int32
	results, err := pipeline.EnrichRows(context.Background(), pipeline.BuildRows(titles, nil, nil, 2), schema.NewAttributes(nil),
		enricher, mustRotator(t, "k1", "k2", "k3"), pipeline.Options{
			Logger: testLogger(&bytes.Buffer{}),
			OnRow:  func(pipeline.Outcome) { completed.Add(1) },
		})
	require.NoError(t, err)
	require.Len(t, results, 10)
	for i, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, titles[i], r.Title)
		assert.Equal(t, []string{"k1", "k2", "k3"}[i%3], creds[i+2])
	}
	assert.EqualValues(t, 10, completed.Load())
}

func TestEnrichRowsSkipsEmptyRows(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	enricher := enrich.EnricherFunc(func(_ context.Context, req enrich.Request) (enrich.Result, error) {
		calls.Add(1)
		return enrich.Result{Title: req.Title}, nil
	})

	var skipped atomic.Int32
	results, err := pipeline.EnrichRows(context.Background(),
		pipeline.BuildRows([]string{"a", " ", "c"}, []string{"", "", ""}, nil, 2),
		schema.NewAttributes(nil), enricher, mustRotator(t, "k"), pipeline.Options{
			Logger: testLogger(&bytes.Buffer{}),
			OnRow: func(o pipeline.Outcome) {
				if o.Skipped {
					skipped.Add(1)
				}
			},
		})
	require.NoError(t, err)
	assert.NotNil(t, results[0])
	assert.Nil(t, results[1])
	assert.NotNil(t, results[2])
	assert.EqualValues(t, 2, calls.Load())
	assert.EqualValues(t, 1, skipped.Load())
}

func TestEnrichRowsFetchesImageOnce(t *testing.T) {
	t.Parallel()

	var fetches, calls atomic.Int32
	images := fetchFunc(func(context.Context, string) (*enrich.Image, error) {
		fetches.Add(1)
		return &enrich.Image{Data: []byte{1}}, nil
	})
	enricher := enrich.EnricherFunc(func(_ context.Context, req enrich.Request) (enrich.Result, error) {
		if calls.Add(1) < 3 {
			return enrich.Result{}, &core.RateLimitError{Op: "test", Err: errors.New("429")}
		}
		if req.Image == nil {
			return enrich.Result{}, errors.New("image missing on retry")
		}
		return enrich.Result{Title: "ok"}, nil
	})

	results, err := pipeline.EnrichRows(context.Background(), pipeline.BuildRows([]string{"a"}, nil, []string{"https://x/1.jpg"}, 2),
		schema.NewAttributes(nil), enricher, mustRotator(t, "k"), pipeline.Options{
			Images: images,
			Retry:  instantPolicy(&sleepRecorder{}),
			Logger: testLogger(&bytes.Buffer{}),
		})
	require.NoError(t, err)
	require.NotNil(t, results[0])
	assert.EqualValues(t, 1, fetches.Load())
	assert.EqualValues(t, 3, calls.Load())
}

type summarizerFunc func(ctx context.Context, description, credential string) (string, error)

func (f summarizerFunc) Summarize(ctx context.Context, description, credential string) (string, error) {
	return f(ctx, description, credential)
}

func TestSummarizeRows(t *testing.T) {
	t.Parallel()

	rows := pipeline.BuildRows([]string{"a", "b", "c"}, []string{"送料無料 d1", "", "d3"}, nil, 2)
	s := summarizerFunc(func(_ context.Context, d, _ string) (string, error) {
		if d == "d3" {
			return "", &core.TransportError{Op: "test", StatusCode: 500, Err: errors.New("boom")}
		}
		return "d1", nil
	})

	got, err := pipeline.SummarizeRows(context.Background(), rows, s, mustRotator(t, "k"), pipeline.Options{Logger: testLogger(&bytes.Buffer{})})
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "", "d3"}, got)
}
