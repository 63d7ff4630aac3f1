// Package memory is an in-memory workbook implementing sheets.Store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shpitdev/listing-enricher/pkg/a1"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/core"
	"github.com/shpitdev/listing-enricher/pkg/sheets"
)

type sheet struct {
	id         int64
	title      string
	cells      [][]string
	background map[[2]int]sheets.Color
}

// Workbook holds named sheets of string cells. It is safe for concurrent use.
type Workbook struct {
	mu     sync.RWMutex
	sheets map[string]*sheet
	order  []string
	nextID int64
}

var _ sheets.Store = (*Workbook)(nil)

// New creates a workbook with the given empty sheets, numbered from 0.
func New(names ...string) *Workbook {
	w := &Workbook{sheets: make(map[string]*sheet)}
	for _, n := range names {
		w.AddSheet(n)
	}
	return w
}

// AddSheet creates an empty sheet if it does not exist and returns its id.
func (w *Workbook) AddSheet(name string) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.sheets[name]; ok {
		return s.id
	}
	s := &sheet{id: w.nextID, title: name, background: make(map[[2]int]sheets.Color)}
	w.nextID++
	w.sheets[name] = s
	w.order = append(w.order, name)
	return s.id
}

// SheetNames lists sheets in creation order.
func (w *Workbook) SheetNames() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.order...)
}

// Grid returns a copy of a sheet's full cell grid.
func (w *Workbook) Grid(name string) ([][]string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.sheets[name]
	if !ok {
		return nil, false
	}
	return copyGrid(s.cells), true
}

// SetGrid replaces a sheet's cells, creating the sheet when needed.
func (w *Workbook) SetGrid(name string, grid [][]string) {
	w.AddSheet(name)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sheets[name].cells = copyGrid(grid)
}

// Cell returns one value by A1 reference ("AI-memo!AB2").
func (w *Workbook) Cell(ref string) string {
	r, err := a1.ParseRange(ref)
	if err != nil {
		return ""
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.sheets[r.Sheet]
	if !ok || r.StartRow >= len(s.cells) || r.StartCol >= len(s.cells[r.StartRow]) {
		return ""
	}
	return s.cells[r.StartRow][r.StartCol]
}

// Background returns the colour of one zero-based cell, white when unset.
func (w *Workbook) Background(name string, col, row int) sheets.Color {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.sheets[name]
	if !ok {
		return sheets.White
	}
	if c, ok := s.background[[2]int{row, col}]; ok {
		return c
	}
	return sheets.White
}

// Read returns the values inside rng with trailing empty cells and rows
// trimmed, the way the Sheets API does.
func (w *Workbook) Read(_ context.Context, rng string) ([][]string, error) {
	r, s, err := w.resolve("read", rng)
	if err != nil {
		return nil, err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()

	var out [][]string
	lastRow := len(s.cells) - 1
	if r.EndRow != a1.Open && r.EndRow < lastRow {
		lastRow = r.EndRow
	}
	for row := r.StartRow; row <= lastRow; row++ {
		src := s.cells[row]
		lastCol := len(src) - 1
		if r.EndCol != a1.Open && r.EndCol < lastCol {
			lastCol = r.EndCol
		}
		var vals []string
		for col := r.StartCol; col <= lastCol; col++ {
			vals = append(vals, src[col])
		}
		out = append(out, trimRow(vals))
	}
	for len(out) > 0 && len(out[len(out)-1]) == 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

// Write lays values out from the top-left cell of rng.
func (w *Workbook) Write(_ context.Context, rng string, values [][]string) error {
	r, s, err := w.resolve("write", rng)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	s.put(r.StartCol, r.StartRow, values)
	return nil
}

// BatchWrite applies all writes or none: every range is validated first.
func (w *Workbook) BatchWrite(_ context.Context, data []sheets.ValueRange) error {
	type resolved struct {
		r      a1.Range
		s      *sheet
		values [][]string
	}
	all := make([]resolved, 0, len(data))
	for _, vr := range data {
		r, s, err := w.resolve("batchWrite", vr.Range)
		if err != nil {
			return err
		}
		all = append(all, resolved{r: r, s: s, values: vr.Values})
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, item := range all {
		item.s.put(item.r.StartCol, item.r.StartRow, item.values)
	}
	return nil
}

// Clear empties the values inside rng. Formatting is kept.
func (w *Workbook) Clear(_ context.Context, rng string) error {
	r, s, err := w.resolve("clear", rng)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for row := r.StartRow; row < len(s.cells); row++ {
		if r.EndRow != a1.Open && row > r.EndRow {
			break
		}
		for col := r.StartCol; col < len(s.cells[row]); col++ {
			if r.EndCol != a1.Open && col > r.EndCol {
				break
			}
			s.cells[row][col] = ""
		}
		s.cells[row] = trimRow(s.cells[row])
	}
	return nil
}

// SheetID resolves a sheet title to its numeric id.
func (w *Workbook) SheetID(_ context.Context, name string) (int64, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.sheets[name]
	if !ok {
		return 0, &core.ConfigError{Field: "sheet " + name, Err: sheets.ErrSheetNotFound}
	}
	return s.id, nil
}

// BatchFormat applies background colours. A whole-sheet request resets every
// previous cell colour first.
func (w *Workbook) BatchFormat(_ context.Context, sheetID int64, reqs []sheets.FormatRequest) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var s *sheet
	for _, candidate := range w.sheets {
		if candidate.id == sheetID {
			s = candidate
			break
		}
	}
	if s == nil {
		return &core.StoreError{Op: "batchFormat", StatusCode: 400, Err: fmt.Errorf("no sheet with id %d", sheetID)}
	}
	for _, req := range reqs {
		if req.Range == nil {
			s.background = make(map[[2]int]sheets.Color)
			if req.Background != sheets.White {
				// Record the sheet-wide colour on every populated cell.
				for row := range s.cells {
					for col := range s.cells[row] {
						s.background[[2]int{row, col}] = req.Background
					}
				}
			}
			continue
		}
		g := req.Range
		for row := g.StartRow; row < g.EndRow; row++ {
			for col := g.StartCol; col < g.EndCol; col++ {
				s.background[[2]int{int(row), int(col)}] = req.Background
			}
		}
	}
	return nil
}

// Colored lists the zero-based (row, col) cells of a sheet with a non-white
// background, sorted.
func (w *Workbook) Colored(name string) [][2]int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.sheets[name]
	if !ok {
		return nil
	}
	var out [][2]int
	for k, c := range s.background {
		if c != sheets.White {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

func (w *Workbook) resolve(op, rng string) (a1.Range, *sheet, error) {
	r, err := a1.ParseRange(rng)
	if err != nil {
		return a1.Range{}, nil, &core.StoreError{Op: op, Range: rng, StatusCode: 400, Err: err}
	}
	w.mu.RLock()
	s, ok := w.sheets[r.Sheet]
	w.mu.RUnlock()
	if !ok {
		return a1.Range{}, nil, &core.StoreError{Op: op, Range: rng, StatusCode: 400, Err: fmt.Errorf("%w: %q", sheets.ErrSheetNotFound, r.Sheet)}
	}
	return r, s, nil
}

func (s *sheet) put(col0, row0 int, values [][]string) {
	for i, vals := range values {
		row := row0 + i
		for len(s.cells) <= row {
			s.cells = append(s.cells, nil)
		}
		need := col0 + len(vals)
		for len(s.cells[row]) < need {
			s.cells[row] = append(s.cells[row], "")
		}
		copy(s.cells[row][col0:], vals)
		s.cells[row] = trimRow(s.cells[row])
	}
}

func trimRow(row []string) []string {
	n := len(row)
	for n > 0 && row[n-1] == "" {
		n--
	}
	return row[:n]
}

func copyGrid(grid [][]string) [][]string {
	out := make([][]string, len(grid))
	for i, row := range grid {
		out[i] = append([]string(nil), row...)
	}
	return out
}
