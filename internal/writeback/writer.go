package writeback

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shpitdev/listing-enricher/pkg/pipeline/core"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/redact"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/retry"
	"github.com/shpitdev/listing-enricher/pkg/sheets"
)

// DefaultBatchSize is the maximum number of writes per batch call.
const DefaultBatchSize = 20

// Writer submits writes in batches. A failed batch is logged and skipped;
// later batches still run.
type Writer struct {
	Store sheets.Writer
	// Policy defaults to retry.StoreWrite().
	Policy    retry.Policy
	BatchSize int
	Logger    *slog.Logger
}

// BatchFailure describes one batch that was not written.
type BatchFailure struct {
	Batch int
	First string
	Ops   int
	Err   error
}

// Report summarises a Write call.
type Report struct {
	Batches        int
	WrittenBatches int
	WrittenOps     int
	Retries        int
	Failed         []BatchFailure
	Duration       time.Duration
}

// FailedOps is the number of writes in failed batches.
func (r Report) FailedOps() int {
	n := 0
	for _, f := range r.Failed {
		n += f.Ops
	}
	return n
}

// Chunk splits ops into consecutive batches of at most size.
func Chunk(ops []sheets.ValueRange, size int) [][]sheets.ValueRange {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][]sheets.ValueRange
	for start := 0; start < len(ops); start += size {
		end := min(start+size, len(ops))
		out = append(out, ops[start:end])
	}
	return out
}

// Write submits every batch in order.
func (w Writer) Write(ctx context.Context, ops []sheets.ValueRange) Report {
	start := time.Now()
	policy := w.Policy
	if policy.MaxAttempts == 0 && policy.Retryable == nil {
		policy = retry.StoreWrite()
	}
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "writeback")

	batches := Chunk(ops, w.BatchSize)
	rep := Report{Batches: len(batches)}
	for i, batch := range batches {
		p := policy
		p.OnRetry = func(attempt int, delay time.Duration, err error) {
			rep.Retries++
			logger.Warn("batch throttled; backing off",
				"batch", i+1,
				"attempt", attempt+1,
				"delay", delay,
				"status", core.StatusCode(err),
			)
		}
		err := p.Do(ctx, func(ctx context.Context, _ int) error {
			return w.Store.BatchWrite(ctx, batch)
		})
		if err != nil {
			msg := "batch write failed"
			if errors.Is(err, retry.ErrExhausted) {
				msg = "batch write failed: max retry"
			}
			logger.Error(msg,
				"batch", i+1,
				"first_range", batch[0].Range,
				"ops", len(batch),
				"status", core.StatusCode(err),
				"error", redact.Secrets(err.Error()),
			)
			rep.Failed = append(rep.Failed, BatchFailure{Batch: i + 1, First: batch[0].Range, Ops: len(batch), Err: err})
			if ctx.Err() != nil {
				for j := i + 1; j < len(batches); j++ {
					rep.Failed = append(rep.Failed, BatchFailure{Batch: j + 1, First: batches[j][0].Range, Ops: len(batches[j]), Err: ctx.Err()})
				}
				break
			}
			continue
		}
		rep.WrittenBatches++
		rep.WrittenOps += len(batch)
		logger.Debug("batch written", "batch", i+1, "ops", len(batch))
	}
	rep.Duration = time.Since(start)
	return rep
}
