// Package credential assigns API keys from a pool to tasks.
package credential

import (
	"context"
	"errors"
	"strings"

	"github.com/shpitdev/listing-enricher/pkg/pipeline/core"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/redact"
	"github.com/shpitdev/listing-enricher/pkg/sheets"
)

// ErrEmptyPool is wrapped in a ConfigError when no usable key exists.
var ErrEmptyPool = errors.New("credential pool is empty")

// Rotator hands out keys round-robin by task index. It is immutable and safe
// for concurrent use.
type Rotator struct {
	pool []string
}

// New trims the pool and drops blank entries.
func New(pool []string) (*Rotator, error) {
	keys := make([]string, 0, len(pool))
	for _, k := range pool {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, &core.ConfigError{Field: "credentials", Err: ErrEmptyPool}
	}
	return &Rotator{pool: keys}, nil
}

// Load reads the first cell of every row in rng and builds a Rotator.
func Load(ctx context.Context, r sheets.Reader, rng string) (*Rotator, error) {
	grid, err := r.Read(ctx, rng)
	if err != nil {
		return nil, err
	}
	return New(sheets.Column(grid))
}

// Len is the pool size.
func (r *Rotator) Len() int { return len(r.pool) }

// Slot is the pool position used for a task index.
func (r *Rotator) Slot(index int) int {
	n := len(r.pool)
	return ((index % n) + n) % n
}

// Assign returns the key for a task index.
func (r *Rotator) Assign(index int) string {
	return r.pool[r.Slot(index)]
}

// Describe identifies a task's key for logs without exposing it.
func (r *Rotator) Describe(index int) (slot int, fingerprint string) {
	slot = r.Slot(index)
	return slot, redact.Fingerprint(r.pool[slot])
}
