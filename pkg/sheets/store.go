// Package sheets defines the tabular store used by the pipeline and a Google
// Sheets implementation of it.
package sheets

import (
	"context"
	"errors"
)

// ErrSheetNotFound is returned (wrapped) when a named sheet does not exist.
var ErrSheetNotFound = errors.New("sheet not found")

// ValueRange is one targeted write: values laid out from the top-left cell of Range.
type ValueRange struct {
	Range  string
	Values [][]string
}

// Color is an RGB colour with components in [0, 1].
type Color struct {
	Red   float64
	Green float64
	Blue  float64
}

var (
	White  = Color{Red: 1, Green: 1, Blue: 1}
	Yellow = Color{Red: 1, Green: 1, Blue: 0}
)

// GridRange is a zero-based, end-exclusive block of cells.
type GridRange struct {
	StartRow int64
	EndRow   int64
	StartCol int64
	EndCol   int64
}

// FormatRequest sets the background colour of a block of cells. A nil Range
// targets the whole sheet.
type FormatRequest struct {
	Range      *GridRange
	Background Color
}

// Reader is the read side of a Store.
type Reader interface {
	Read(ctx context.Context, rng string) ([][]string, error)
}

// Writer is the write side of a Store.
type Writer interface {
	Write(ctx context.Context, rng string, values [][]string) error
	BatchWrite(ctx context.Context, data []ValueRange) error
}

// Store is key-range access to a workbook of named sheets addressed in A1
// notation. Values are written as raw strings.
type Store interface {
	Reader
	Writer
	Clear(ctx context.Context, rng string) error
	SheetID(ctx context.Context, name string) (int64, error)
	BatchFormat(ctx context.Context, sheetID int64, reqs []FormatRequest) error
}

// Column flattens a single-column read into one value per row. Rows the
// store trimmed to nothing become "".
func Column(grid [][]string) []string {
	out := make([]string, len(grid))
	for i, row := range grid {
		if len(row) > 0 {
			out[i] = row[0]
		}
	}
	return out
}

// FirstRow returns the first row of a read, or nil.
func FirstRow(grid [][]string) []string {
	if len(grid) == 0 {
		return nil
	}
	return grid[0]
}

// ColumnValues turns a list into a single-column grid for Write.
func ColumnValues(values []string) [][]string {
	out := make([][]string, len(values))
	for i, v := range values {
		out[i] = []string{v}
	}
	return out
}
