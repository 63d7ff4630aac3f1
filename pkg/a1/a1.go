// Package a1 converts between zero-based grid coordinates and spreadsheet
// A1 notation ("Sheet!A1:B2").
package a1

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Open marks an unbounded end of a range ("A2:A" has an open end row).
const Open = -1

// ColumnLetters converts a zero-based column index to base-26 letters:
// 0 -> A, 25 -> Z, 26 -> AA, 29 -> AD. Negative indexes return "".
func ColumnLetters(index int) string {
	if index < 0 {
		return ""
	}
	var buf [16]byte
	i := len(buf)
	for index >= 0 {
		i--
		buf[i] = byte('A' + index%26)
		index = index/26 - 1
	}
	return string(buf[i:])
}

// ColumnIndex is the inverse of ColumnLetters. Letters are case-insensitive.
func ColumnIndex(letters string) (int, error) {
	letters = strings.TrimSpace(letters)
	if letters == "" {
		return 0, errors.New("a1: empty column")
	}
	n := 0
	for _, r := range letters {
		switch {
		case r >= 'A' && r <= 'Z':
			n = n*26 + int(r-'A') + 1
		case r >= 'a' && r <= 'z':
			n = n*26 + int(r-'a') + 1
		default:
			return 0, fmt.Errorf("a1: invalid column %q", letters)
		}
		if n > 1<<24 {
			return 0, fmt.Errorf("a1: column %q out of range", letters)
		}
	}
	return n - 1, nil
}

// Range is a parsed A1 range. Rows and columns are zero-based and the end is
// inclusive; Open marks an unbounded end.
type Range struct {
	Sheet    string
	StartCol int
	StartRow int
	EndCol   int
	EndRow   int
}

// ParseRange parses "Sheet!A1:B2", "Sheet!A2:A", "Sheet!AD1:1", "Sheet!B2",
// "'My Sheet'!A1" and bare sheet names.
func ParseRange(s string) (Range, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Range{}, errors.New("a1: empty range")
	}
	sheet, cells := s, ""
	if i := strings.LastIndex(s, "!"); i >= 0 {
		sheet, cells = s[:i], s[i+1:]
	}
	sheet = unquoteSheet(sheet)
	if sheet == "" {
		return Range{}, fmt.Errorf("a1: missing sheet in %q", s)
	}

	r := Range{Sheet: sheet, EndCol: Open, EndRow: Open}
	if cells == "" {
		return r, nil
	}

	start, end, hasEnd := strings.Cut(cells, ":")
	sc, sr, err := parseCell(start)
	if err != nil {
		return Range{}, fmt.Errorf("a1: %q: %w", s, err)
	}
	r.StartCol, r.StartRow = orZero(sc), orZero(sr)
	if !hasEnd {
		// A single cell, or a whole column/row when one part is missing.
		r.EndCol, r.EndRow = sc, sr
		return r, nil
	}

	ec, er, err := parseCell(end)
	if err != nil {
		return Range{}, fmt.Errorf("a1: %q: %w", s, err)
	}
	r.EndCol, r.EndRow = ec, er
	if (r.EndCol != Open && r.EndCol < r.StartCol) || (r.EndRow != Open && r.EndRow < r.StartRow) {
		return Range{}, fmt.Errorf("a1: %q: end before start", s)
	}
	return r, nil
}

// Cell formats a single cell reference. col and row are zero-based.
func Cell(sheet string, col, row int) string {
	return QuoteSheet(sheet) + "!" + ColumnLetters(col) + strconv.Itoa(row+1)
}

// String formats the range back to A1 notation.
func (r Range) String() string {
	var b strings.Builder
	b.WriteString(QuoteSheet(r.Sheet))
	if r.StartCol == 0 && r.StartRow == 0 && r.EndCol == Open && r.EndRow == Open {
		return b.String()
	}
	b.WriteString("!")
	b.WriteString(ColumnLetters(r.StartCol))
	b.WriteString(strconv.Itoa(r.StartRow + 1))
	if r.EndCol == r.StartCol && r.EndRow == r.StartRow {
		return b.String()
	}
	b.WriteString(":")
	if r.EndCol != Open {
		b.WriteString(ColumnLetters(r.EndCol))
	}
	if r.EndRow != Open {
		b.WriteString(strconv.Itoa(r.EndRow + 1))
	}
	return b.String()
}

// Contains reports whether the zero-based cell lies inside the range.
func (r Range) Contains(col, row int) bool {
	if col < r.StartCol || row < r.StartRow {
		return false
	}
	if r.EndCol != Open && col > r.EndCol {
		return false
	}
	if r.EndRow != Open && row > r.EndRow {
		return false
	}
	return true
}

func parseCell(s string) (col, row int, err error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, "$", ""))
	if s == "" {
		return 0, 0, errors.New("empty cell reference")
	}
	i := 0
	for i < len(s) && isLetter(s[i]) {
		i++
	}
	col, row = Open, Open
	if i > 0 {
		if col, err = ColumnIndex(s[:i]); err != nil {
			return 0, 0, err
		}
	}
	if i < len(s) {
		n, convErr := strconv.Atoi(s[i:])
		if convErr != nil || n < 1 {
			return 0, 0, fmt.Errorf("invalid row in %q", s)
		}
		row = n - 1
	}
	return col, row, nil
}

func isLetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

func orZero(v int) int {
	if v == Open {
		return 0
	}
	return v
}

func unquoteSheet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		s = strings.ReplaceAll(s[1:len(s)-1], "''", "'")
	}
	return s
}

// QuoteSheet wraps a sheet name in single quotes when A1 notation needs it.
func QuoteSheet(s string) string {
	if strings.ContainsAny(s, " '!:") {
		return "'" + strings.ReplaceAll(s, "'", "''") + "'"
	}
	return s
}
