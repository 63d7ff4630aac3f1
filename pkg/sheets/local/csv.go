// Package local is a workbook backed by a directory of CSV files, one file
// per sheet named "<sheet>.csv".
package local

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/shpitdev/listing-enricher/pkg/a1"
	"github.com/shpitdev/listing-enricher/pkg/sheets"
	"github.com/shpitdev/listing-enricher/pkg/sheets/memory"
)

// ReadCSV reads a whole CSV document as a ragged grid.
func ReadCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var grid [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(grid)+1, err)
		}
		grid = append(grid, rec)
	}
	return grid, nil
}

// WriteCSV writes a grid as CSV, padding rows to a common width. Readers skip
// blank lines, so the width is at least two to keep empty rows in place.
func WriteCSV(w io.Writer, grid [][]string) error {
	width := 2
	for _, row := range grid {
		width = max(width, len(row))
	}
	cw := csv.NewWriter(w)
	rec := make([]string, width)
	for _, row := range grid {
		clear(rec)
		copy(rec, row)
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// LoadDir reads every "*.csv" file in dir into a new memory workbook. Sheets
// are created in file-name order.
func LoadDir(dir string) (*memory.Workbook, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	wb := memory.New()
	for _, p := range paths {
		name := strings.TrimSuffix(filepath.Base(p), ".csv")
		if strings.HasPrefix(name, ".") {
			continue
		}
		grid, err := readFile(p)
		if err != nil {
			return nil, err
		}
		wb.SetGrid(name, grid)
	}
	return wb, nil
}

// Workbook is a CSV directory loaded into memory. Every value mutation
// rewrites the affected sheet files. Background colours are kept in memory
// only; CSV has nowhere to store them.
type Workbook struct {
	*memory.Workbook

	dir string
	mu  sync.Mutex
}

var _ sheets.Store = (*Workbook)(nil)

// Open loads dir. Sheets named in ensure are created (and written) when missing.
func Open(dir string, ensure ...string) (*Workbook, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("open workbook dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open workbook dir: %s is not a directory", dir)
	}
	wb, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	w := &Workbook{Workbook: wb, dir: dir}
	for _, name := range ensure {
		if _, ok := wb.Grid(name); ok {
			continue
		}
		wb.AddSheet(name)
		if err := w.flush(name); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (w *Workbook) Write(ctx context.Context, rng string, values [][]string) error {
	if err := w.Workbook.Write(ctx, rng, values); err != nil {
		return err
	}
	return w.flushRanges(rng)
}

func (w *Workbook) BatchWrite(ctx context.Context, data []sheets.ValueRange) error {
	if err := w.Workbook.BatchWrite(ctx, data); err != nil {
		return err
	}
	rngs := make([]string, 0, len(data))
	for _, vr := range data {
		rngs = append(rngs, vr.Range)
	}
	return w.flushRanges(rngs...)
}

func (w *Workbook) Clear(ctx context.Context, rng string) error {
	if err := w.Workbook.Clear(ctx, rng); err != nil {
		return err
	}
	return w.flushRanges(rng)
}

func (w *Workbook) flushRanges(rngs ...string) error {
	seen := make(map[string]struct{}, len(rngs))
	for _, rng := range rngs {
		r, err := a1.ParseRange(rng)
		if err != nil {
			return err
		}
		if _, ok := seen[r.Sheet]; ok {
			continue
		}
		seen[r.Sheet] = struct{}{}
		if err := w.flush(r.Sheet); err != nil {
			return err
		}
	}
	return nil
}

func (w *Workbook) flush(name string) error {
	grid, ok := w.Grid(name)
	if !ok {
		return fmt.Errorf("flush %q: %w", name, sheets.ErrSheetNotFound)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	path := filepath.Join(w.dir, name+".csv")
	tmp, err := os.CreateTemp(w.dir, "."+name+"-*.csv")
	if err != nil {
		return fmt.Errorf("flush %q: %w", name, err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if err := WriteCSV(tmp, grid); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush %q: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("flush %q: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("flush %q: %w", name, err)
	}
	return nil
}

func readFile(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	grid, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return grid, nil
}
