// Package app wires the store, enrichment pipeline and write-back into runs.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shpitdev/listing-enricher/internal/credential"
	"github.com/shpitdev/listing-enricher/internal/enrich"
	"github.com/shpitdev/listing-enricher/internal/layout"
	"github.com/shpitdev/listing-enricher/internal/pipeline"
	"github.com/shpitdev/listing-enricher/internal/prepare"
	"github.com/shpitdev/listing-enricher/internal/writeback"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/retry"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/schema"
	"github.com/shpitdev/listing-enricher/pkg/sheets"
)

// Deps are the collaborators of a run.
type Deps struct {
	Store    sheets.Store
	Enricher enrich.Enricher
	// Summarizer is required only when Options.Summarize is set.
	Summarizer enrich.Summarizer
	Images     pipeline.ImageFetcher
	Logger     *slog.Logger
}

type Options struct {
	Layout layout.Layout

	Workers        int
	RequestTimeout time.Duration
	RateLimitRPS   float64
	// Retry defaults to retry.Enrichment(); WriteRetry to retry.StoreWrite().
	Retry      retry.Policy
	WriteRetry retry.Policy
	BatchSize  int

	Summarize bool

	// LockDir and LockKey select the run lock. An empty LockDir disables it.
	LockDir string
	LockKey string

	// OnStart is called once with the number of rows about to be enriched.
	OnStart func(rows int)
	OnRow   func(pipeline.Outcome)
}

// Report summarizes one enrichment run.
type Report struct {
	RunID      string
	Rows       int
	Enriched   int
	Absent     int
	Skipped    int
	Summarized int
	Writes     int
	Write      writeback.Report
	Duration   time.Duration
}

// FailedBatches is the number of write batches that were not written.
func (r Report) FailedBatches() int { return len(r.Write.Failed) }

// Run enriches every reference row of the memo sheet and writes the results
// back. Row failures are logged and reported; the error is non-nil only for
// configuration problems, unreadable inputs or cancellation.
func Run(ctx context.Context, deps Deps, opts Options) (Report, error) {
	start := time.Now()
	rep := Report{RunID: uuid.NewString()}
	l := opts.Layout.WithDefaults()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run", rep.RunID)
	runLog := logger.With("component", "app")

	if opts.LockDir != "" {
		release, err := acquireLock(opts.LockDir, keyOrDefault(opts.LockKey))
		if err != nil {
			return rep, err
		}
		defer func() {
			if err := release(); err != nil {
				runLog.Warn("release run lock", "error", err)
			}
		}()
	}

	runLog.Info("run start",
		"workers", opts.Workers,
		"request_timeout", opts.RequestTimeout,
		"rate_limit_rps", opts.RateLimitRPS,
		"summarize", opts.Summarize,
	)

	rotator, err := credential.Load(ctx, deps.Store, l.Credentials())
	if err != nil {
		return rep, fmt.Errorf("load credentials: %w", err)
	}
	runLog.Info("credentials loaded", "pool", rotator.Len())

	in, err := loadInputs(ctx, deps.Store, l)
	if err != nil {
		return rep, err
	}
	rows := pipeline.BuildRows(in.titles, in.descriptions, in.images, l.FirstDataRow)
	rep.Rows = len(rows)
	runLog.Info("inputs loaded", "rows", len(rows), "attributes", in.attrs.Len())

	pipeOpts := pipeline.Options{
		Workers:        opts.Workers,
		RequestTimeout: opts.RequestTimeout,
		RateLimitRPS:   opts.RateLimitRPS,
		Retry:          opts.Retry,
		Images:         deps.Images,
		Logger:         logger,
	}

	if opts.Summarize {
		if deps.Summarizer == nil {
			return rep, fmt.Errorf("summarize enabled without a summarizer")
		}
		n, err := summarize(ctx, deps, l, rows, rotator, pipeOpts, runLog)
		if err != nil {
			return rep, err
		}
		rep.Summarized = n
	}

	if opts.OnStart != nil {
		opts.OnStart(len(rows))
	}
	pipeOpts.OnRow = func(o pipeline.Outcome) {
		if o.Skipped {
			rep.Skipped++
		}
		if opts.OnRow != nil {
			opts.OnRow(o)
		}
	}
	maxAttempts := pipeOpts.Retry.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = retry.Enrichment().MaxAttempts
	}

	enrichStart := time.Now()
	results, err := pipeline.EnrichRows(ctx, rows, in.attrs, newTracedEnricher(deps.Enricher, logger, maxAttempts), rotator, pipeOpts)
	if err != nil {
		return rep, fmt.Errorf("enrich rows: %w", err)
	}
	for _, r := range results {
		if r != nil {
			rep.Enriched++
		}
	}
	rep.Absent = rep.Rows - rep.Enriched - rep.Skipped
	runLog.Info("enrichment complete",
		"enriched", rep.Enriched,
		"absent", rep.Absent,
		"skipped", rep.Skipped,
		"duration", time.Since(enrichStart).Round(time.Millisecond),
	)

	ops := writeback.NewAssembler(l).Assemble(results, in.attrs)
	rep.Writes = len(ops)
	w := writeback.Writer{
		Store:     deps.Store,
		Policy:    opts.WriteRetry,
		BatchSize: opts.BatchSize,
		Logger:    logger,
	}
	rep.Write = w.Write(ctx, ops)

	rep.Duration = time.Since(start)
	runLog.Info("run complete",
		"rows", rep.Rows,
		"enriched", rep.Enriched,
		"writes", rep.Writes,
		"failed_batches", rep.FailedBatches(),
		"duration", rep.Duration.Round(time.Millisecond),
	)
	return rep, ctx.Err()
}

type inputs struct {
	attrs        schema.Attributes
	titles       []string
	descriptions []string
	images       []string
}

func loadInputs(ctx context.Context, store sheets.Reader, l layout.Layout) (inputs, error) {
	var in inputs
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		grid, err := store.Read(gctx, l.MemoAttributeHeader())
		if err != nil {
			return fmt.Errorf("load attribute schema: %w", err)
		}
		in.attrs = schema.NewAttributes(sheets.FirstRow(grid))
		return nil
	})
	for rng, dst := range map[string]*[]string{
		l.MemoTitles():       &in.titles,
		l.MemoDescriptions(): &in.descriptions,
		l.MemoImages():       &in.images,
	} {
		g.Go(func() error {
			grid, err := store.Read(gctx, rng)
			if err != nil {
				return fmt.Errorf("read %s: %w", rng, err)
			}
			*dst = sheets.Column(grid)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return inputs{}, err
	}
	return in, nil
}

// summarize replaces the reference descriptions in rows and on the sheet.
func summarize(
	ctx context.Context,
	deps Deps,
	l layout.Layout,
	rows []pipeline.Row,
	rotator *credential.Rotator,
	opts pipeline.Options,
	logger *slog.Logger,
) (int, error) {
	start := time.Now()
	summaries, err := pipeline.SummarizeRows(ctx, rows, deps.Summarizer, rotator, opts)
	if err != nil {
		return 0, fmt.Errorf("summarize rows: %w", err)
	}
	changed := 0
	for i := range rows {
		if summaries[i] != rows[i].Description {
			changed++
		}
		rows[i].Description = summaries[i]
	}
	if len(summaries) > 0 && changed > 0 {
		if err := deps.Store.Write(ctx, l.MemoDescriptions(), sheets.ColumnValues(summaries)); err != nil {
			return changed, fmt.Errorf("write summaries: %w", err)
		}
	}
	logger.Info("descriptions summarized", "changed", changed, "duration", time.Since(start).Round(time.Millisecond))
	return changed, nil
}

// Prepare rebuilds the memo sheet from the listing sheet.
func Prepare(ctx context.Context, store sheets.Store, l layout.Layout, logger *slog.Logger) (prepare.Report, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run", uuid.NewString())
	return prepare.Preparer{Store: store, Layout: l, Logger: logger}.Run(ctx)
}

// keyOrDefault trims a lock key; an empty key shares one lock.
func keyOrDefault(key string) string {
	if key = strings.TrimSpace(key); key != "" {
		return key
	}
	return "default"
}
