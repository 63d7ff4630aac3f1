package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shpitdev/listing-enricher/internal/enrich"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/core"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/redact"
)

// tracedEnricher logs every request and response per row and attempt.
// Payload bodies are never logged, only their shape.
type tracedEnricher struct {
	next        enrich.Enricher
	logger      *slog.Logger
	maxAttempts int

	mu       sync.Mutex
	attempts map[int]int
}

func newTracedEnricher(next enrich.Enricher, logger *slog.Logger, maxAttempts int) *tracedEnricher {
	return &tracedEnricher{
		next:        next,
		logger:      logger.With("component", "enricher"),
		maxAttempts: maxAttempts,
		attempts:    make(map[int]int),
	}
}

func (t *tracedEnricher) Enrich(ctx context.Context, req enrich.Request) (enrich.Result, error) {
	attempt := t.nextAttempt(req.Row)

	deadlineIn := "none"
	if d, ok := ctx.Deadline(); ok {
		deadlineIn = time.Until(d).Round(time.Millisecond).String()
	}
	t.logger.Debug("enrich request",
		"row", req.Row,
		"attempt", attempt,
		"credential", redact.Fingerprint(req.Credential),
		"deadline_in", deadlineIn,
		"image", req.Image != nil,
		"attributes", len(req.Attributes),
	)

	start := time.Now()
	out, err := t.next.Enrich(ctx, req)
	elapsed := time.Since(start).Round(time.Millisecond)

	if err != nil {
		retryable := core.IsRateLimited(err)
		t.logger.Debug("enrich response",
			"row", req.Row,
			"attempt", attempt,
			"duration", elapsed,
			"status", "error",
			"retryable", retryable,
			"will_retry", retryable && attempt < t.maxAttempts,
			"final_backoff", retryable && attempt >= t.maxAttempts,
			"error", redact.Secrets(err.Error()),
		)
		return out, err
	}
	t.logger.Debug("enrich response",
		"row", req.Row,
		"attempt", attempt,
		"duration", elapsed,
		"status", "ok",
		"model", out.Model,
		"title_len", len([]rune(out.Title)),
		"attributes", len(out.Attributes),
	)
	return out, nil
}

func (t *tracedEnricher) nextAttempt(row int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts[row]++
	return t.attempts[row]
}
