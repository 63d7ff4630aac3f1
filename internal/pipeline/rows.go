package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shpitdev/listing-enricher/internal/credential"
	"github.com/shpitdev/listing-enricher/internal/enrich"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/core"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/redact"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/retry"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/schema"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/worker"
)

// Row is one reference row from the memo sheet.
type Row struct {
	// Index is the zero-based task index; it selects the credential.
	Index int
	// Position is the 1-based sheet row the results are written back to.
	Position    int
	Title       string
	Description string
	ImageRef    string
}

// Empty reports whether there is nothing to enrich.
func (r Row) Empty() bool {
	return strings.TrimSpace(r.Title) == "" && strings.TrimSpace(r.Description) == ""
}

// BuildRows zips the reference columns. The title column decides the row
// count; missing description or image cells are empty.
func BuildRows(titles, descriptions, images []string, firstRow int) []Row {
	rows := make([]Row, len(titles))
	for i := range titles {
		rows[i] = Row{
			Index:       i,
			Position:    firstRow + i,
			Title:       titles[i],
			Description: at(descriptions, i),
			ImageRef:    at(images, i),
		}
	}
	return rows
}

func at(vals []string, i int) string {
	if i < len(vals) {
		return vals[i]
	}
	return ""
}

// ImageFetcher loads a row's reference image. It returns (nil, nil) when
// there is nothing to load.
type ImageFetcher interface {
	Fetch(ctx context.Context, ref string) (*enrich.Image, error)
}

// Outcome is reported once per row as rows complete.
type Outcome struct {
	Row      Row
	Result   *enrich.Result
	Err      error
	Skipped  bool
	Attempts int
}

type Options struct {
	Workers        int
	RequestTimeout time.Duration
	RateLimitRPS   float64

	// Retry defaults to retry.Enrichment().
	Retry  retry.Policy
	Images ImageFetcher
	Logger *slog.Logger
	// OnRow is called in completion order. It must not block for long.
	OnRow func(Outcome)
}

func (o Options) withDefaults() Options {
	if o.Retry.MaxAttempts == 0 && o.Retry.Retryable == nil {
		o.Retry = retry.Enrichment()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

type task struct {
	pos int
	row Row

	mu       sync.Mutex
	fetched  bool
	image    *enrich.Image
	attempts int
}

func (t *task) nextAttempt() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts++
	return t.attempts
}

func (t *task) attemptCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// loadImage fetches the row's image once. Failures are logged and the row
// continues without an image.
func (t *task) loadImage(ctx context.Context, images ImageFetcher, logger *slog.Logger) *enrich.Image {
	t.mu.Lock()
	if t.fetched {
		img := t.image
		t.mu.Unlock()
		return img
	}
	t.fetched = true
	t.mu.Unlock()
	if images == nil || strings.TrimSpace(t.row.ImageRef) == "" {
		return nil
	}

	img, err := images.Fetch(ctx, t.row.ImageRef)
	if err != nil {
		logger.Warn("image unavailable; sending text-only request",
			"row", t.row.Position,
			"stage", "image",
			"error", redact.Secrets(err.Error()),
		)
		return nil
	}
	t.mu.Lock()
	t.image = img
	t.mu.Unlock()
	return img
}

// EnrichRows enriches every row with bounded concurrency. The returned slice
// has one entry per row in input order; an entry is nil when the row was
// skipped or failed. Row failures are logged and never fail the run; the
// error is non-nil only when ctx ends early.
func EnrichRows(
	ctx context.Context,
	rows []Row,
	attrs schema.Attributes,
	enricher enrich.Enricher,
	rotator *credential.Rotator,
	opts Options,
) ([]*enrich.Result, error) {
	opts = opts.withDefaults()
	logger := opts.Logger.With("component", "pipeline")
	results := make([]*enrich.Result, len(rows))
	names := attrs.Names()

	tasks := make([]*task, 0, len(rows))
	for i, row := range rows {
		if row.Empty() {
			logger.Debug("row skipped: no reference title or description", "row", row.Position)
			if opts.OnRow != nil {
				opts.OnRow(Outcome{Row: row, Skipped: true})
			}
			continue
		}
		tasks = append(tasks, &task{pos: i, row: row})
	}

	process := func(ctx context.Context, t *task) (enrich.Result, error) {
		attempt := t.nextAttempt()
		img := t.loadImage(ctx, opts.Images, logger)
		out, err := enricher.Enrich(ctx, enrich.Request{
			Row:         t.row.Position,
			Title:       t.row.Title,
			Description: t.row.Description,
			Image:       img,
			Attributes:  names,
			Credential:  rotator.Assign(t.row.Index),
		})
		if err != nil && core.IsRateLimited(err) {
			slot, _ := rotator.Describe(t.row.Index)
			msg := "rate limit reached; backing off"
			if attempt >= opts.Retry.MaxAttempts {
				msg = "rate limit reached; final backoff before giving up"
			}
			logger.Warn(msg,
				"row", t.row.Position,
				"attempt", attempt,
				"credential_slot", slot,
				"delay", opts.Retry.Delay(attempt-1),
			)
		}
		return out, err
	}

	onResult := func(res worker.Result[*task, enrich.Result]) error {
		t := res.Input
		outcome := Outcome{Row: t.row, Err: res.Err, Attempts: t.attemptCount()}
		switch {
		case res.Err == nil:
			out := res.Output
			results[t.pos] = &out
			outcome.Result = &out
		case errors.Is(res.Err, retry.ErrExhausted):
			logger.Error("max retry",
				"row", t.row.Position,
				"attempts", outcome.Attempts,
				"stage", core.Stage(res.Err),
				"error", redact.Secrets(res.Err.Error()),
			)
		default:
			logger.Error("row failed",
				"row", t.row.Position,
				"stage", core.Stage(res.Err),
				"error", redact.Secrets(res.Err.Error()),
			)
		}
		if opts.OnRow != nil {
			opts.OnRow(outcome)
		}
		return nil
	}

	_, err := worker.ProcessAllWithCallback(ctx, tasks, process, onResult, worker.Options{
		Workers:        opts.Workers,
		RequestTimeout: opts.RequestTimeout,
		RateLimitRPS:   opts.RateLimitRPS,
		Retry:          opts.Retry,
	})
	if err != nil {
		return results, err
	}
	return results, nil
}

// SummarizeRows runs the summarizer over every non-empty description through
// the same worker pool. The returned slice has one entry per row; failures
// keep the original description.
func SummarizeRows(
	ctx context.Context,
	rows []Row,
	summarizer enrich.Summarizer,
	rotator *credential.Rotator,
	opts Options,
) ([]string, error) {
	opts = opts.withDefaults()
	logger := opts.Logger.With("component", "summarizer")
	out := make([]string, len(rows))

	type item struct {
		pos int
		row Row
	}
	var pending []item
	for i, row := range rows {
		out[i] = row.Description
		if strings.TrimSpace(row.Description) != "" {
			pending = append(pending, item{pos: i, row: row})
		}
	}

	process := func(ctx context.Context, it item) (string, error) {
		return summarizer.Summarize(ctx, it.row.Description, rotator.Assign(it.row.Index))
	}
	onResult := func(res worker.Result[item, string]) error {
		if res.Err != nil {
			logger.Error("summary failed; keeping original description",
				"row", res.Input.row.Position,
				"stage", core.Stage(res.Err),
				"error", redact.Secrets(res.Err.Error()),
			)
			return nil
		}
		out[res.Input.pos] = res.Output
		return nil
	}

	_, err := worker.ProcessAllWithCallback(ctx, pending, process, onResult, worker.Options{
		Workers:        opts.Workers,
		RequestTimeout: opts.RequestTimeout,
		RateLimitRPS:   opts.RateLimitRPS,
		Retry:          opts.Retry,
	})
	return out, err
}
